// Package matcher scores detected face vectors against the reference identities.
package matcher

import (
	"github.com/kozaktomas/face-organizer/internal/reference"
)

// Match is a reference identity whose similarity to a face reached the threshold.
type Match struct {
	Person     string  `json:"person"`
	Similarity float64 `json:"similarity"`
}

// Similarities computes the cosine similarity between face and every identity in set,
// in set order, clamped to [-1, 1]. A face equal to an identity scores exactly 1.
// Returns nil when the face cannot be compared (empty, zero norm or a different
// dimensionality).
func Similarities(face []float32, set *reference.Set) []float64 {
	if set.Len() == 0 || len(face) != set.Dim() {
		return nil
	}
	q, qSq, ok := reference.Widen(face)
	if !ok {
		return nil
	}

	out := make([]float64, set.Len())
	for i := range out {
		out[i] = set.Similarity(i, q, qSq)
	}
	return out
}

// MatchFaces returns every (face, identity) pair with similarity >= threshold.
// Several faces may match different people and one person may appear more than once;
// use BestPerPerson to collapse duplicates.
func MatchFaces(faces [][]float32, set *reference.Set, threshold float64) []Match {
	var matches []Match
	for _, face := range faces {
		for i, sim := range Similarities(face, set) {
			if sim >= threshold {
				matches = append(matches, Match{Person: set.Name(i), Similarity: sim})
			}
		}
	}
	return matches
}

// BestPerPerson keeps one match per person, the one with the highest similarity.
// Persons keep the order of their first appearance.
func BestPerPerson(matches []Match) []Match {
	if len(matches) == 0 {
		return nil
	}
	pos := make(map[string]int, len(matches))
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		i, seen := pos[m.Person]
		if !seen {
			pos[m.Person] = len(out)
			out = append(out, m)
			continue
		}
		if m.Similarity > out[i].Similarity {
			out[i] = m
		}
	}
	return out
}
