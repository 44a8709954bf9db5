package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeusync/atar/internal/core/arcore"
	"github.com/zeusync/atar/internal/core/events/bus"
	"github.com/zeusync/atar/internal/core/frames"
	"github.com/zeusync/atar/internal/core/geom"
	"github.com/zeusync/atar/internal/core/input"
	"github.com/zeusync/atar/internal/core/observability/log"
)

// Websocket message types
const (
	MessageTaskState    = "task_state"
	MessageACParams     = "ac_params"
	MessageScene        = "scene"
	MessageTaskSwitched = "task_switched"
	MessageError        = "error"

	MessageToolPose   = "tool_pose"
	MessageToolGrip   = "tool_grip"
	MessageControl    = "control"
	MessageCameraPose = "camera_pose"
	MessageImage      = "image"
)

const (
	sendBuffer     = 64
	maxMessageSize = 16 << 20
	writeWait      = 2 * time.Second
	pingInterval   = 15 * time.Second
)

var telemetryKinds = map[string]string{
	bus.TypeTaskState: MessageTaskState,
	bus.TypeACParams:  MessageACParams,
	bus.TypeScene:     MessageScene,
	bus.TypeTaskSwap:  MessageTaskSwitched,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Envelope wraps every websocket message in both directions
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ToolPose sets the pose of a tool in its own frame, as x,y,z,qx,qy,qz,qw
type ToolPose struct {
	Tool string    `json:"tool"`
	Pose []float64 `json:"pose"`
}

type ToolGrip struct {
	Tool string  `json:"tool"`
	Grip float64 `json:"grip"`
}

// CameraPose is the pose of the task frame in a camera frame
type CameraPose struct {
	Camera int       `json:"camera"`
	Pose   []float64 `json:"pose"`
}

// ImageMessage carries one camera image, Data is base64 in JSON
type ImageMessage struct {
	frames.Image
	Data []byte `json:"data"`
}

func encode(kind string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: kind, Data: data})
}

func decode(env Envelope, v any) error {
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidMessage, env.Type, err)
	}
	return nil
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// enqueue never blocks; a client that cannot keep up loses messages
func (c *client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// writePump is the only writer of the connection
func (c *client) writePump(logger log.Log) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("Write failed", log.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

type hub struct {
	log     log.Log
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func newHub(logger log.Log) *hub {
	return &hub{log: logger, clients: make(map[*client]struct{})}
}

func (h *hub) add(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	return len(h.clients)
}

func (h *hub) remove(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	return len(h.clients)
}

func (h *hub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast runs on the publishing loop and must not block it
func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.enqueue(msg) {
			h.log.Debug("Client too slow, dropping message", log.String("client_id", c.id))
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

// forward relays one kind of telemetry event to every websocket client
func (s *Server) forward(name string) bus.EventHandler {
	return func(e bus.Event) error {
		if s.hub.len() == 0 {
			return nil
		}
		msg, err := encode(name, e.Data())
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		s.hub.broadcast(msg)
		return nil
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", log.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := newClient(conn)
	clientLogger := s.logger.With(log.String("client_id", c.id))
	total := s.hub.add(c)
	clientLogger.Info("Client connected",
		log.String("remote_addr", conn.RemoteAddr().String()),
		log.Int("total_clients", total))

	defer func() {
		total := s.hub.remove(c)
		c.close()
		clientLogger.Info("Client disconnected", log.Int("total_clients", total))
	}()

	go c.writePump(clientLogger)

	if msg, err := encode(MessageTaskState, s.core.State()); err == nil {
		c.enqueue(msg)
	}

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				clientLogger.Warn("Failed to read message", log.Error(err))
			}
			return
		}
		if err := s.handleMessage(r.Context(), env); err != nil {
			clientLogger.Debug("Message rejected", log.String("type", env.Type), log.Error(err))
			if msg, encErr := encode(MessageError, errorResponse{Error: err.Error()}); encErr == nil {
				c.enqueue(msg)
			}
		}
	}
}

// handleMessage applies one incoming message
func (s *Server) handleMessage(ctx context.Context, env Envelope) error {
	switch env.Type {
	case MessageToolPose:
		var m ToolPose
		if err := decode(env, &m); err != nil {
			return err
		}
		pose, err := parsePose(m.Pose)
		if err != nil {
			return err
		}
		h, err := s.toolHandlers(m.Tool)
		if err != nil {
			return err
		}
		h.SetPose(pose)

	case MessageToolGrip:
		var m ToolGrip
		if err := decode(env, &m); err != nil {
			return err
		}
		h, err := s.toolHandlers(m.Tool)
		if err != nil {
			return err
		}
		h.SetGrip(m.Grip)

	case MessageControl:
		var m arcore.Control
		if err := decode(env, &m); err != nil {
			return err
		}
		return s.core.HandleControl(ctx, m)

	case MessageCameraPose:
		if s.frames == nil {
			return fmt.Errorf("%w: frames are disabled", ErrInvalidMessage)
		}
		var m CameraPose
		if err := decode(env, &m); err != nil {
			return err
		}
		pose, err := parsePose(m.Pose)
		if err != nil {
			return err
		}
		s.frames.PushCameraPose(m.Camera, pose)

	case MessageImage:
		if s.frames == nil {
			return fmt.Errorf("%w: frames are disabled", ErrInvalidMessage)
		}
		var m ImageMessage
		if err := decode(env, &m); err != nil {
			return err
		}
		img := m.Image
		img.Data = m.Data
		s.frames.PushImage(img)

	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, env.Type)
	}
	return nil
}

func (s *Server) toolHandlers(name string) (input.Handlers, error) {
	tools := s.core.Tools()
	i, err := tools.Index(name)
	if err != nil {
		return input.Handlers{}, err
	}
	return tools.Handlers(i)
}

func parsePose(v []float64) (geom.Pose, error) {
	pose, err := geom.FromSlice(v)
	if err != nil {
		return geom.Pose{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if pose.Rot.Len() == 0 {
		return geom.Pose{}, fmt.Errorf("%w: zero quaternion", ErrInvalidMessage)
	}
	pose.Rot = pose.Rot.Normalize()
	return pose, nil
}
