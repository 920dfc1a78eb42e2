package reference

import (
	"sort"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/face-organizer/internal/constants"
)

// Neighbor is an identity close to a query vector.
type Neighbor struct {
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
}

// Index wraps an HNSW graph over the identities of a Set.
// Used for diagnostics ("who does this face look like"), never for threshold matching.
type Index struct {
	graph *hnsw.Graph[string]
	set   *Set
}

func newIndex(s *Set) *Index {
	if s.Len() == 0 {
		return &Index{set: s}
	}

	g := hnsw.NewGraph[string]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance

	for i := range s.names {
		g.Add(hnsw.MakeNode(s.names[i], s.Row(i)))
	}
	return &Index{graph: g, set: s}
}

// Len returns the number of indexed identities.
func (x *Index) Len() int {
	if x.graph == nil {
		return 0
	}
	return x.graph.Len()
}

// Nearest returns up to k identities closest to query, most similar first.
// Similarity is recomputed from the stored vectors for each candidate.
func (x *Index) Nearest(query []float32, k int) []Neighbor {
	if x.graph == nil || k <= 0 || len(query) != x.set.Dim() {
		return []Neighbor{}
	}
	unit := Normalize(query)
	q, qSq, ok := Widen(query)
	if unit == nil || !ok {
		return []Neighbor{}
	}

	nodes := x.graph.Search(unit, k)
	out := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Neighbor{Name: n.Key, Similarity: x.set.Similarity(x.set.byName[n.Key], q, qSq)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}
