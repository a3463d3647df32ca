// Package reembed rebuilds the dense and lexical vectors of chunks already
// stored in the vector index, typically after switching embedding models.
//
// Chunk text and payload are read back from each collection, re-embedded in
// batches with retry, normalized to unit length and written back. When the
// new model changes the vector size the collection is recreated.
package reembed
