package vectorindex

import (
	"cmp"
	"slices"
)

// RRFK is the rank constant of reciprocal rank fusion.
const RRFK = 60

// Fused is a point after reciprocal rank fusion.
type Fused struct {
	ID      string
	Payload Payload
	Score   float64
}

// Fuse merges ranked candidate lists with reciprocal rank fusion. Each list
// contributes 1/(rank+RRFK) for every point it holds, with rank starting at
// 1. Points absent from a list get nothing from it. The result is sorted by
// fused score, highest first.
func Fuse(lists ...[]Candidate) []Fused {
	byID := make(map[string]*Fused)
	var order []string

	for _, list := range lists {
		for i, c := range list {
			f, ok := byID[c.ID]
			if !ok {
				f = &Fused{ID: c.ID, Payload: c.Payload}
				byID[c.ID] = f
				order = append(order, c.ID)
			}
			f.Score += 1.0 / float64(i+1+RRFK)
		}
	}

	out := make([]Fused, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	slices.SortStableFunc(out, func(a, b Fused) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return out
}
