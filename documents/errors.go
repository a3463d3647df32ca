package documents

import "errors"

var (
	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrVectorIndexRequired is returned when a vector index service is not provided.
	ErrVectorIndexRequired = errors.New("vector index required")

	// ErrExtractorRequired is returned when an extractor is not provided.
	ErrExtractorRequired = errors.New("extractor required")

	// ErrQueryRequired is returned when a retrieval query is empty.
	ErrQueryRequired = errors.New("query cannot be empty")
)
