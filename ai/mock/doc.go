// Package mock provides test double implementations of AI service interfaces.
//
// # Usage in Tests
//
//	embedder := mock.NewMockEmbedderWithDimensions(8)
//	svc := vectorindex.NewService(backend, embedder, vectorindex.WithDimensions(8))
//
//	// Custom behavior injection
//	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, errors.New("service unavailable")
//	}
//
//	// Check call counts
//	count := embedder.CallCount()
//
// The default embedder returns deterministic unit vectors derived from an FNV
// hash of the text, so identical text always embeds identically.
package mock
