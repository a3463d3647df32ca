package decision

import (
	"testing"

	"github.com/poiesic/doctier/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mini = core.ModelProfile{
	Name:            "gpt-4o-mini",
	ContextWindow:   128_000,
	SmallThreshold:  4_000,
	MediumThreshold: 20_000,
	LargeThreshold:  50_000,
}

func TestDecide_SmallDocumentIsInline(t *testing.T) {
	d := Decide(500, mini, 0)

	assert.Equal(t, core.TierInline, d.Tier)
	assert.Nil(t, d.TTLDays)
	assert.Equal(t, 500, d.ChunkSize)
	assert.Equal(t, 1, d.EstimatedChunks)
	assert.Equal(t, "Small document (500 tokens) fits in context", d.Rationale)
	assert.Equal(t, 128_000-2_000, d.AvailableContext)
	assert.False(t, d.RequiresChunking)
	assert.False(t, d.Fallback)
}

func TestDecide_LargeDocument(t *testing.T) {
	d := Decide(25_000, mini, 0)

	assert.Equal(t, core.TierLongLived, d.Tier)
	require.NotNil(t, d.TTLDays)
	assert.Equal(t, 30, *d.TTLDays)
	assert.Equal(t, 1500, d.ChunkSize)
	assert.Equal(t, 17, d.EstimatedChunks)
	assert.True(t, d.RequiresChunking)
}

func TestDecide_Boundaries(t *testing.T) {
	tests := []struct {
		name   string
		tokens int
		inline int
		tier   core.Tier
		ttl    int
		chunk  int
	}{
		{"at small threshold", 4_000, 0, core.TierInline, 0, 4_000},
		{"just above small threshold", 4_001, 0, core.TierShortLived, 7, 1_000},
		{"at medium threshold", 20_000, 0, core.TierShortLived, 7, 1_000},
		{"just above medium threshold", 20_001, 0, core.TierLongLived, 30, 1_500},
		{"at large threshold", 50_000, 0, core.TierLongLived, 30, 1_500},
		{"very large", 200_000, 0, core.TierLongLived, 30, 1_500},
		{"small but context full", 3_000, 124_000, core.TierShortLived, 7, 1_000},
		{"fits exactly in available", 2_000, 124_000, core.TierInline, 0, 2_000},
		{"tiny document without room", 2, 127_000, core.TierShortLived, 7, 1},
		{"empty document", 0, 0, core.TierInline, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.tokens, mini, tt.inline)

			assert.Equal(t, tt.tier, d.Tier)
			if tt.ttl == 0 {
				assert.Nil(t, d.TTLDays)
			} else {
				require.NotNil(t, d.TTLDays)
				assert.Equal(t, tt.ttl, *d.TTLDays)
			}
			assert.Equal(t, tt.chunk, d.ChunkSize)
			assert.GreaterOrEqual(t, d.EstimatedChunks, 1)
		})
	}
}

func TestDecide_ShortChunkSizeScalesWithSmallDocuments(t *testing.T) {
	// 2,400 tokens that do not fit inline: chunk is a third of the document.
	d := Decide(2_400, mini, 125_000)

	assert.Equal(t, core.TierShortLived, d.Tier)
	assert.Equal(t, 800, d.ChunkSize)
	assert.Equal(t, 3, d.EstimatedChunks)
	assert.Equal(t, "Medium document (2400 tokens) stored temporarily", d.Rationale)
}

func TestDecide_VeryLargeRationale(t *testing.T) {
	d := Decide(60_000, mini, 0)
	assert.Equal(t, "Very large document (60000 tokens) may need special handling", d.Rationale)
	assert.Equal(t, 40, d.EstimatedChunks)
}

func TestDecide_InvalidProfileFallsBack(t *testing.T) {
	broken := core.ModelProfile{Name: "broken", ContextWindow: 100, SmallThreshold: 50, MediumThreshold: 10, LargeThreshold: 5}

	d := Decide(3_500, broken, 0)

	assert.True(t, d.Fallback)
	assert.Equal(t, core.TierShortLived, d.Tier)
	require.NotNil(t, d.TTLDays)
	assert.Equal(t, 7, *d.TTLDays)
	assert.Equal(t, 1000, d.ChunkSize)
	assert.Equal(t, 3, d.EstimatedChunks)
	assert.Contains(t, d.Rationale, "Fallback due to error")
}

func TestDecide_NegativeInputsClamped(t *testing.T) {
	d := Decide(-10, mini, -5)

	assert.Equal(t, 0, d.TokenCount)
	assert.Equal(t, core.TierInline, d.Tier)
	assert.Equal(t, 126_000, d.AvailableContext)
}

func TestDecide_TTLInvariant(t *testing.T) {
	for tokens := 0; tokens <= 120_000; tokens += 1_700 {
		d := Decide(tokens, mini, 0)
		switch d.Tier {
		case core.TierInline:
			assert.Nil(t, d.TTLDays)
		case core.TierShortLived:
			require.NotNil(t, d.TTLDays)
			assert.Equal(t, 7, *d.TTLDays)
		case core.TierLongLived:
			require.NotNil(t, d.TTLDays)
			assert.Equal(t, 30, *d.TTLDays)
		default:
			t.Fatalf("unexpected tier %v", d.Tier)
		}
	}
}

func TestCanFitInContext(t *testing.T) {
	assert.True(t, CanFitInContext(4_000, mini, 0))
	assert.False(t, CanFitInContext(4_001, mini, 0))
	assert.False(t, CanFitInContext(3_000, mini, 124_000))
	assert.True(t, CanFitInContext(2_000, mini, 124_000))
}

func TestRecommend(t *testing.T) {
	assert.Equal(t,
		"Document will be included directly in chat context (500 tokens)",
		Recommend(Decide(500, mini, 0)))
	assert.Equal(t,
		"Document will be stored temporarily for 7 days (12,000 tokens, ~12 chunks)",
		Recommend(Decide(12_000, mini, 0)))
	assert.Equal(t,
		"Document will be stored persistently for 30 days (25,000 tokens, ~17 chunks)",
		Recommend(Decide(25_000, mini, 0)))
}
