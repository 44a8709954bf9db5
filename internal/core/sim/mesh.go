package sim

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/atar/internal/core/geom"
	"github.com/zeusync/atar/internal/core/observability/log"
	"github.com/zeusync/atar/internal/core/systems/physics"
)

// DecompositionSuffix is appended to the mesh file name, before the extension, to name
// the cached convex decomposition.
const DecompositionSuffix = "_hacd"

const defaultDecompositionCells = 4

// Mesh is a triangulated surface read from an OBJ file, in real-world units.
type Mesh struct {
	Path     string
	Vertices []mgl64.Vec3
	Faces    [][3]int
	// Volume enclosed by the surface
	Volume float64
	// Hulls are the point clouds of the convex pieces approximating the mesh
	Hulls [][]mgl64.Vec3
}

// Compound builds the collision shape of the mesh with every length multiplied by scale.
// Each hull is re-centred so its bounding sphere stays tight.
func (m *Mesh) Compound(scale float64) *physics.Compound {
	c := &physics.Compound{Children: make([]physics.CompoundChild, 0, len(m.Hulls))}
	for _, hull := range m.Hulls {
		if len(hull) == 0 {
			continue
		}
		var center mgl64.Vec3
		for _, p := range hull {
			center = center.Add(p)
		}
		center = center.Mul(1 / float64(len(hull)))

		pts := make([]mgl64.Vec3, len(hull))
		for i, p := range hull {
			pts[i] = p.Sub(center).Mul(scale)
		}
		origin := center.Mul(scale)
		c.Children = append(c.Children, physics.CompoundChild{
			Local: geom.Translation(origin[0], origin[1], origin[2]),
			Shape: physics.NewHull(pts),
		})
	}
	return c
}

// MeshLibrary loads meshes once per file version and keeps them in memory. The convex
// decomposition of a mesh is written beside it and reused by later runs.
type MeshLibrary struct {
	log   log.Log
	cells int

	mu    sync.Mutex
	cache map[uint64]*Mesh
}

// MeshOption configures a MeshLibrary
type MeshOption func(*MeshLibrary)

// WithDecompositionCells sets how many cells the longest side of a mesh is split into.
func WithDecompositionCells(n int) MeshOption {
	return func(l *MeshLibrary) {
		if n > 0 {
			l.cells = n
		}
	}
}

func NewMeshLibrary(logger log.Log, opts ...MeshOption) *MeshLibrary {
	if logger == nil {
		logger = log.Provide()
	}
	l := &MeshLibrary{
		log:   logger.With(log.String("component", "meshes")),
		cells: defaultDecompositionCells,
		cache: make(map[uint64]*Mesh),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DecompositionPath returns the cache file name for a mesh: the same path with the
// suffix inserted before the extension.
func DecompositionPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + DecompositionSuffix + ".obj"
}

// Len returns the number of cached meshes
func (l *MeshLibrary) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cache)
}

// Load reads the mesh at path, decomposing it on first use.
func (l *MeshLibrary) Load(path string) (*Mesh, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrMeshNotFound, path)
		}
		return nil, fmt.Errorf("stat mesh %q: %w", path, err)
	}

	key := cacheKey(path, info)
	l.mu.Lock()
	if m, ok := l.cache[key]; ok {
		l.mu.Unlock()
		return m, nil
	}
	l.mu.Unlock()

	m, err := l.load(path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if existing, ok := l.cache[key]; ok {
		m = existing
	} else {
		l.cache[key] = m
	}
	l.mu.Unlock()
	return m, nil
}

// Preload loads every path concurrently and returns the first failure.
func (l *MeshLibrary) Preload(ctx context.Context, paths ...string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := l.Load(p)
			return err
		})
	}
	return g.Wait()
}

func (l *MeshLibrary) load(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mesh %q: %w", path, err)
	}
	defer f.Close()

	data, err := parseOBJ(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidMesh, path, err)
	}
	if len(data.faces) == 0 {
		return nil, fmt.Errorf("%w: %q has no faces", ErrInvalidMesh, path)
	}

	m := &Mesh{
		Path:     path,
		Vertices: data.vertices,
		Faces:    data.faces,
		Volume:   SurfaceVolume(data.vertices, data.faces),
	}

	cachePath := DecompositionPath(path)
	if hulls, err := readHulls(cachePath); err == nil && len(hulls) > 0 {
		m.Hulls = hulls
		l.log.Debug("Loaded mesh decomposition from cache", log.String("path", cachePath), log.Int("hulls", len(hulls)))
		return m, nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		l.log.Warn("Ignoring unreadable mesh decomposition", log.String("path", cachePath), log.Error(err))
	}

	m.Hulls = Decompose(m.Vertices, m.Faces, l.cells)
	l.log.Info("Decomposed mesh", log.String("path", path), log.Int("hulls", len(m.Hulls)))
	if err := writeHulls(cachePath, path, m.Hulls); err != nil {
		l.log.Warn("Failed to write mesh decomposition", log.String("path", cachePath), log.Error(err))
	}
	return m, nil
}

func cacheKey(path string, info os.FileInfo) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(path)
	_, _ = d.WriteString(strconv.FormatInt(info.ModTime().UnixNano(), 10))
	_, _ = d.WriteString(strconv.FormatInt(info.Size(), 10))
	return d.Sum64()
}

// SurfaceVolume is the volume enclosed by a closed triangulated surface, the sum of
// the signed tetrahedra spanned by each face and the origin.
func SurfaceVolume(vertices []mgl64.Vec3, faces [][3]int) float64 {
	sum := 0.0
	for _, f := range faces {
		a, b, c := vertices[f[0]], vertices[f[1]], vertices[f[2]]
		sum += a.Dot(b.Cross(c))
	}
	return math.Abs(sum) / 6
}

// Decompose splits a mesh into convex pieces on a regular grid. Every triangle goes to
// the cell holding its centroid, so neighbouring pieces share the vertices on their border.
func Decompose(vertices []mgl64.Vec3, faces [][3]int, cells int) [][]mgl64.Vec3 {
	if len(vertices) == 0 {
		return nil
	}
	if cells <= 0 {
		cells = defaultDecompositionCells
	}

	lo, hi := vertices[0], vertices[0]
	for _, v := range vertices[1:] {
		for i := 0; i < 3; i++ {
			lo[i] = math.Min(lo[i], v[i])
			hi[i] = math.Max(hi[i], v[i])
		}
	}
	size := hi.Sub(lo)
	cell := math.Max(size[0], math.Max(size[1], size[2])) / float64(cells)
	if cell <= 0 {
		return [][]mgl64.Vec3{append([]mgl64.Vec3(nil), vertices...)}
	}

	type key [3]int
	buckets := make(map[key]map[int]struct{})
	for _, f := range faces {
		centroid := vertices[f[0]].Add(vertices[f[1]]).Add(vertices[f[2]]).Mul(1.0 / 3)
		var k key
		for i := 0; i < 3; i++ {
			k[i] = int(math.Min(float64(cells-1), math.Floor((centroid[i]-lo[i])/cell)))
		}
		b, ok := buckets[k]
		if !ok {
			b = make(map[int]struct{})
			buckets[k] = b
		}
		for _, idx := range f {
			b[idx] = struct{}{}
		}
	}

	keys := make([]key, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		if a[1] != b[1] {
			return a[1] < b[1]
		}
		return a[2] < b[2]
	})

	hulls := make([][]mgl64.Vec3, 0, len(keys))
	for _, k := range keys {
		idx := make([]int, 0, len(buckets[k]))
		for i := range buckets[k] {
			idx = append(idx, i)
		}
		if len(idx) < 4 {
			continue
		}
		sort.Ints(idx)
		hull := make([]mgl64.Vec3, len(idx))
		for i, v := range idx {
			hull[i] = vertices[v]
		}
		hulls = append(hulls, hull)
	}
	if len(hulls) == 0 {
		return [][]mgl64.Vec3{append([]mgl64.Vec3(nil), vertices...)}
	}
	return hulls
}

type objData struct {
	vertices []mgl64.Vec3
	faces    [][3]int
	// objects lists, per "o" or "g" record, the vertices declared after it
	objects [][]mgl64.Vec3
}

// parseOBJ reads the v, f, o and g records of a Wavefront OBJ stream. Polygons are fan
// triangulated; texture and normal references are ignored.
func parseOBJ(r io.Reader) (*objData, error) {
	data := &objData{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: vertex needs 3 coordinates", line)
			}
			var v mgl64.Vec3
			for i := 0; i < 3; i++ {
				f, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				v[i] = f
			}
			data.vertices = append(data.vertices, v)
			if n := len(data.objects); n > 0 {
				data.objects[n-1] = append(data.objects[n-1], v)
			}
		case "o", "g":
			data.objects = append(data.objects, nil)
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: face needs 3 vertices", line)
			}
			idx := make([]int, 0, len(fields)-1)
			for _, tok := range fields[1:] {
				ref, _, _ := strings.Cut(tok, "/")
				i, err := strconv.Atoi(ref)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				if i < 0 {
					i = len(data.vertices) + i
				} else {
					i--
				}
				if i < 0 || i >= len(data.vertices) {
					return nil, fmt.Errorf("line %d: vertex %s out of range", line, ref)
				}
				idx = append(idx, i)
			}
			for k := 1; k+1 < len(idx); k++ {
				data.faces = append(data.faces, [3]int{idx[0], idx[k], idx[k+1]})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return data, nil
}

func readHulls(path string) ([][]mgl64.Vec3, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := parseOBJ(f)
	if err != nil {
		return nil, err
	}
	hulls := make([][]mgl64.Vec3, 0, len(data.objects))
	for _, obj := range data.objects {
		if len(obj) > 0 {
			hulls = append(hulls, obj)
		}
	}
	return hulls, nil
}

// writeHulls stores one OBJ object per hull. The file is written next to the target and
// renamed into place so concurrent readers never see a partial file.
func writeHulls(path, source string, hulls [][]mgl64.Vec3) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	fmt.Fprintf(w, "# convex decomposition of %s\n", filepath.Base(source))
	for i, hull := range hulls {
		fmt.Fprintf(w, "o hull_%d\n", i)
		for _, p := range hull {
			fmt.Fprintf(w, "v %s %s %s\n",
				strconv.FormatFloat(p[0], 'g', -1, 64),
				strconv.FormatFloat(p[1], 'g', -1, 64),
				strconv.FormatFloat(p[2], 'g', -1, 64))
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
