package vectorindex

import (
	"hash/fnv"
	"slices"
	"strings"

	"github.com/poiesic/doctier/core"
)

// stopWords are left out of sparse signatures so common words do not
// inflate the overlap between unrelated queries and chunks.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true,
}

// sparseTerms returns the lowercase terms of text that enter its sparse
// signature, with surrounding punctuation and stop words removed.
func sparseTerms(text string) []string {
	words := strings.Fields(text)
	filtered := make([]string, 0, len(words))

	for _, word := range words {
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}"))
		if cleaned != "" && !stopWords[cleaned] {
			filtered = append(filtered, cleaned)
		}
	}

	return filtered
}

// Sparse computes the lexical signature of text: every remaining term is
// hashed to a uint32 index weighted by its frequency. Queries and chunks use
// the same encoding, so matching terms land on matching indices.
func Sparse(text string) core.SparseVector {
	terms := sparseTerms(text)
	if len(terms) == 0 {
		return core.SparseVector{}
	}

	counts := make(map[uint32]float32, len(terms))
	for _, term := range terms {
		h := fnv.New32a()
		h.Write([]byte(term))
		counts[h.Sum32()]++
	}

	indices := make([]uint32, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	slices.Sort(indices)

	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = counts[idx]
	}
	return core.SparseVector{Indices: indices, Values: values}
}
