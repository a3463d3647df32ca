package vectorindex

import "errors"

var (
	// ErrCollectionNotFound indicates the named collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch indicates a vector does not match the collection size.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrBackendRequired indicates no index backend was supplied.
	ErrBackendRequired = errors.New("vector index backend is required")

	// ErrAIProviderRequired indicates no embedding provider was supplied.
	ErrAIProviderRequired = errors.New("AI provider is required")
)
