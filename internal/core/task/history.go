package task

// HistoryLen is the number of scores kept per task
const HistoryLen = 10

// ScoreHistory keeps the newest scores; the oldest is dropped when it is full.
// It is not safe for concurrent use.
type ScoreHistory struct {
	size   int
	scores []float64
}

func NewScoreHistory(size int) *ScoreHistory {
	if size <= 0 {
		size = HistoryLen
	}
	return &ScoreHistory{size: size, scores: make([]float64, 0, size)}
}

func (h *ScoreHistory) Push(score float64) {
	if len(h.scores) == h.size {
		copy(h.scores, h.scores[1:])
		h.scores = h.scores[:h.size-1]
	}
	h.scores = append(h.scores, score)
}

// Pop removes the newest score
func (h *ScoreHistory) Pop() (float64, bool) {
	if len(h.scores) == 0 {
		return 0, false
	}
	last := h.scores[len(h.scores)-1]
	h.scores = h.scores[:len(h.scores)-1]
	return last, true
}

// Values returns the scores from oldest to newest
func (h *ScoreHistory) Values() []float64 {
	return append([]float64(nil), h.scores...)
}

func (h *ScoreHistory) Len() int { return len(h.scores) }
func (h *ScoreHistory) Cap() int { return h.size }

func (h *ScoreHistory) Reset() {
	h.scores = h.scores[:0]
}

var (
	colorGray   = [3]float64{0.6, 0.6, 0.6}
	colorGreen  = [3]float64{0.2, 0.8, 0.2}
	colorLime   = [3]float64{0.6, 0.85, 0.2}
	colorYellow = [3]float64{0.95, 0.85, 0.1}
	colorOrange = [3]float64{1.0, 0.55, 0.0}
	colorRed    = [3]float64{0.9, 0.1, 0.1}
)

// ScoreColor maps a score in [0, 100] onto the indicator colour scale.
func ScoreColor(score float64) [3]float64 {
	switch {
	case score >= 90:
		return colorGreen
	case score >= 75:
		return colorLime
	case score >= 60:
		return colorYellow
	case score >= 40:
		return colorOrange
	default:
		return colorRed
	}
}
