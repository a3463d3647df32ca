// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"fmt"
)

// ValidateDocument validates a Document according to domain rules.
//
// Validation rules:
//   - ID, ConversationID, UserID and Filename must not be empty
//   - Tier must be a known tier
//   - TTLDays must be nil for inline documents and set for indexed ones
//
// NOT validated:
//   - ContentHash (may be empty for records imported without text)
//   - ChunkCount (0 is valid for inline documents)
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}

	if doc.ID == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidDocument)
	}

	if doc.ConversationID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrMissingConversation)
	}

	if doc.UserID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrMissingUser)
	}

	if doc.Filename == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrMissingFilename)
	}

	if !doc.Tier.Valid() {
		return fmt.Errorf("%w: %w: value %d", ErrInvalidDocument, ErrInvalidTier, doc.Tier)
	}

	if doc.Tier.Indexed() != (doc.TTLDays != nil) {
		return fmt.Errorf("%w: ttl does not match tier %s", ErrInvalidDocument, doc.Tier)
	}

	return nil
}

// ValidateModelProfile checks small < medium < large < context window.
func ValidateModelProfile(p ModelProfile) error {
	if p.SmallThreshold <= 0 {
		return fmt.Errorf("%w: small threshold must be positive", ErrInvalidModelProfile)
	}
	if !(p.SmallThreshold < p.MediumThreshold &&
		p.MediumThreshold < p.LargeThreshold &&
		p.LargeThreshold < p.ContextWindow) {
		return fmt.Errorf("%w: thresholds %d/%d/%d must increase below window %d",
			ErrInvalidModelProfile, p.SmallThreshold, p.MediumThreshold, p.LargeThreshold, p.ContextWindow)
	}
	return nil
}
