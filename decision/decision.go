// Package decision routes documents to a storage tier based on their size and
// the context budget of the target model.
//
// Decide is a total function: it never returns an error and never panics.
// Malformed inputs are clamped, and anything that still goes wrong yields a
// short-lived fallback decision so storage can proceed.
package decision

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/poiesic/doctier/core"
)

// ReservedMargin is the number of context tokens kept free for the
// conversation itself when deciding whether a document fits inline.
const ReservedMargin = 2000

const (
	shortChunkCap = 1000
	longChunkCap  = 1500

	fallbackChunkSize = 1000
)

// Decide classifies a document of tokenCount tokens for the given model
// profile, given inlineSize tokens already held inline for the conversation.
func Decide(tokenCount int, profile core.ModelProfile, inlineSize int) (d core.TierDecision) {
	defer func() {
		if r := recover(); r != nil {
			d = fallback(tokenCount, profile.Name, fmt.Sprint(r))
		}
	}()

	if tokenCount < 0 {
		tokenCount = 0
	}
	if inlineSize < 0 {
		inlineSize = 0
	}
	if err := core.ValidateModelProfile(profile); err != nil {
		return fallback(tokenCount, profile.Name, err.Error())
	}

	available := profile.ContextWindow - inlineSize - ReservedMargin

	var tier core.Tier
	var rationale string
	switch {
	case tokenCount <= profile.SmallThreshold && tokenCount <= available:
		tier = core.TierInline
		rationale = fmt.Sprintf("Small document (%d tokens) fits in context", tokenCount)
	case tokenCount <= profile.MediumThreshold:
		tier = core.TierShortLived
		rationale = fmt.Sprintf("Medium document (%d tokens) stored temporarily", tokenCount)
	case tokenCount <= profile.LargeThreshold:
		tier = core.TierLongLived
		rationale = fmt.Sprintf("Large document (%d tokens) stored persistently", tokenCount)
	default:
		tier = core.TierLongLived
		rationale = fmt.Sprintf("Very large document (%d tokens) may need special handling", tokenCount)
	}

	return core.TierDecision{
		TokenCount:       tokenCount,
		Tier:             tier,
		TTLDays:          tier.TTLDays(),
		ChunkSize:        chunkSize(tokenCount, tier),
		EstimatedChunks:  estimateChunks(tokenCount, tier),
		Rationale:        rationale,
		Model:            profile.Name,
		AvailableContext: available,
		RequiresChunking: tokenCount > profile.SmallThreshold,
	}
}

// CanFitInContext reports whether a document would be kept inline.
func CanFitInContext(tokenCount int, profile core.ModelProfile, inlineSize int) bool {
	available := profile.ContextWindow - inlineSize - ReservedMargin
	return tokenCount <= available && tokenCount <= profile.SmallThreshold
}

// Recommend renders a decision as a sentence suitable for showing to the uploader.
func Recommend(d core.TierDecision) string {
	tokens := humanize.Comma(int64(d.TokenCount))
	switch d.Tier {
	case core.TierInline:
		return fmt.Sprintf("Document will be included directly in chat context (%s tokens)", tokens)
	case core.TierShortLived:
		return fmt.Sprintf("Document will be stored temporarily for 7 days (%s tokens, ~%d chunks)", tokens, d.EstimatedChunks)
	default:
		return fmt.Sprintf("Document will be stored persistently for 30 days (%s tokens, ~%d chunks)", tokens, d.EstimatedChunks)
	}
}

func chunkSize(tokenCount int, tier core.Tier) int {
	var size int
	switch tier {
	case core.TierInline:
		size = tokenCount
	case core.TierShortLived:
		size = min(shortChunkCap, tokenCount/3)
	default:
		size = min(longChunkCap, tokenCount/5)
	}
	// Tiny documents that miss the inline budget still need a usable size.
	return max(1, size)
}

func estimateChunks(tokenCount int, tier core.Tier) int {
	if tier == core.TierInline {
		return 1
	}
	size := chunkSize(tokenCount, tier)
	return max(1, (tokenCount+size-1)/size)
}

func fallback(tokenCount int, model, reason string) core.TierDecision {
	return core.TierDecision{
		TokenCount:       tokenCount,
		Tier:             core.TierShortLived,
		TTLDays:          core.TierShortLived.TTLDays(),
		ChunkSize:        fallbackChunkSize,
		EstimatedChunks:  max(1, tokenCount/fallbackChunkSize),
		Rationale:        "Fallback due to error: " + reason,
		Model:            model,
		RequiresChunking: true,
		Fallback:         true,
	}
}
