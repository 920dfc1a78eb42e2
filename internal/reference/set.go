// Package reference holds the immutable set of known identities faces are matched against.
package reference

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ErrEmptyVector is returned for identities whose vector is empty or has zero norm.
var ErrEmptyVector = errors.New("empty or zero vector")

// Identity is a named person with one unit-normalized feature vector.
type Identity struct {
	Name   string
	Vector []float32
}

// Set is an immutable collection of identities sharing one dimensionality.
// It is safe for concurrent use without locking.
type Set struct {
	names   []string
	matrix  []float32 // unit rows, row-major, len(names) * dim
	raw     []float64 // vectors as loaded, same layout as matrix
	sqNorms []float64
	dim     int
	byName  map[string]int

	indexOnce sync.Once
	index     *Index
}

// Normalize returns a unit-length copy of v, or nil if v has zero norm.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Widen copies v into float64 and returns its squared norm.
// ok is false for vectors that cannot be compared (empty, zero, NaN or Inf).
func Widen(v []float32) (q []float64, sq float64, ok bool) {
	q = make([]float64, len(v))
	for i, x := range v {
		q[i] = float64(x)
		sq += q[i] * q[i]
	}
	if sq == 0 || math.IsNaN(sq) || math.IsInf(sq, 0) {
		return nil, 0, false
	}
	return q, sq, true
}

// Cosine turns a dot product and the two squared norms into a similarity in [-1, 1].
// Taking a single square root keeps identical vectors at exactly 1.
func Cosine(dot, aSq, bSq float64) float64 {
	return max(-1, min(1, dot/math.Sqrt(aSq*bSq)))
}

// NewSet validates and normalizes identities. Names must be unique and all vectors
// must share the same dimensionality. Identities are ordered by name.
func NewSet(identities []Identity) (*Set, error) {
	sorted := make([]Identity, len(identities))
	copy(sorted, identities)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	s := &Set{byName: make(map[string]int, len(sorted))}
	for _, id := range sorted {
		if id.Name == "" {
			return nil, errors.New("identity without a name")
		}
		if _, dup := s.byName[id.Name]; dup {
			return nil, fmt.Errorf("duplicate identity %q", id.Name)
		}
		unit := Normalize(id.Vector)
		if unit == nil {
			return nil, fmt.Errorf("identity %q: %w", id.Name, ErrEmptyVector)
		}
		if s.dim == 0 {
			s.dim = len(unit)
		} else if len(unit) != s.dim {
			return nil, fmt.Errorf("identity %q has dimension %d, expected %d", id.Name, len(unit), s.dim)
		}
		s.byName[id.Name] = len(s.names)
		s.names = append(s.names, id.Name)
		s.matrix = append(s.matrix, unit...)
		raw, sq, _ := Widen(id.Vector)
		s.raw = append(s.raw, raw...)
		s.sqNorms = append(s.sqNorms, sq)
	}
	return s, nil
}

// Len returns the number of identities. A nil set is empty.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}

// Dim returns the vector dimensionality, 0 for an empty set.
func (s *Set) Dim() int {
	if s == nil {
		return 0
	}
	return s.dim
}

// Name returns the name of the i-th identity.
func (s *Set) Name(i int) string {
	return s.names[i]
}

// Row returns the unit vector of the i-th identity. Callers must not modify it.
func (s *Set) Row(i int) []float32 {
	return s.matrix[i*s.dim : (i+1)*s.dim]
}

// Similarity returns the cosine similarity between the i-th identity and q,
// where qSq is the squared norm of q as returned by Widen.
func (s *Set) Similarity(i int, q []float64, qSq float64) float64 {
	row := s.raw[i*s.dim : (i+1)*s.dim]
	var dot float64
	for k, x := range row {
		dot += x * q[k]
	}
	return Cosine(dot, qSq, s.sqNorms[i])
}

// Names returns a copy of all identity names in set order.
func (s *Set) Names() []string {
	if s == nil {
		return []string{}
	}
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Lookup returns the identity with the given name.
func (s *Set) Lookup(name string) (Identity, bool) {
	if s == nil {
		return Identity{}, false
	}
	i, ok := s.byName[name]
	if !ok {
		return Identity{}, false
	}
	vec := make([]float32, s.dim)
	copy(vec, s.Row(i))
	return Identity{Name: name, Vector: vec}, true
}

// Index returns the nearest-neighbor index over the set, building it on first use.
func (s *Set) Index() *Index {
	s.indexOnce.Do(func() {
		s.index = newIndex(s)
	})
	return s.index
}
