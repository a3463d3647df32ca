package core

import (
	"fmt"
	"strings"
)

// Tier identifies where a document's content is stored.
type Tier int

const (
	// TierInline keeps the full text in the conversation's inline context.
	TierInline Tier = iota + 1
	// TierShortLived indexes chunks in the conversation's temporary scope.
	TierShortLived
	// TierLongLived indexes chunks in the user's persistent scope.
	TierLongLived
)

// ScopeKind identifies the partition an index scope belongs to.
type ScopeKind int

const (
	// ScopeTemporary is keyed by conversation id.
	ScopeTemporary ScopeKind = iota + 1
	// ScopePersistent is keyed by user id.
	ScopePersistent
)

const (
	temporaryScopePrefix  = "chat_temp_"
	persistentScopePrefix = "user_docs_"
)

type tierSpec struct {
	name    string
	ttlDays int // 0 means no expiry
	scope   ScopeKind
}

var tierTable = map[Tier]tierSpec{
	TierInline:     {name: "inline"},
	TierShortLived: {name: "short_lived_index", ttlDays: 7, scope: ScopeTemporary},
	TierLongLived:  {name: "long_lived_index", ttlDays: 30, scope: ScopePersistent},
}

// String returns the wire name of the tier.
func (t Tier) String() string {
	if spec, ok := tierTable[t]; ok {
		return spec.name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	_, ok := tierTable[t]
	return ok
}

// Indexed reports whether the tier stores content in a vector index.
func (t Tier) Indexed() bool {
	return tierTable[t].scope != 0
}

// TTLDays returns the retention of the tier, or nil when it never expires.
func (t Tier) TTLDays() *int {
	spec, ok := tierTable[t]
	if !ok || spec.ttlDays == 0 {
		return nil
	}
	days := spec.ttlDays
	return &days
}

// ScopeKind returns the scope partition used by the tier (zero for inline).
func (t Tier) ScopeKind() ScopeKind {
	return tierTable[t].scope
}

// Scope derives the index scope for the tier from the owning ids.
// Returns false for the inline tier.
func (t Tier) Scope(conversationID, userID string) (Scope, bool) {
	switch t.ScopeKind() {
	case ScopeTemporary:
		return TemporaryScope(conversationID), true
	case ScopePersistent:
		return PersistentScope(userID), true
	}
	return Scope{}, false
}

// ParseTier converts a wire name back into a Tier.
func ParseTier(s string) (Tier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for tier, spec := range tierTable {
		if spec.name == s {
			return tier, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTier, s)
}

// Scope is a named partition of the index space.
type Scope struct {
	Kind ScopeKind
	Name string
}

// TemporaryScope returns the conversation-scoped temporary collection.
func TemporaryScope(conversationID string) Scope {
	return Scope{Kind: ScopeTemporary, Name: temporaryScopePrefix + conversationID}
}

// PersistentScope returns the user-scoped persistent collection.
func PersistentScope(userID string) Scope {
	return Scope{Kind: ScopePersistent, Name: persistentScopePrefix + userID}
}

func (s Scope) String() string {
	return s.Name
}
