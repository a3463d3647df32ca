package core

import (
	"errors"
	"testing"
)

func TestValidateDocument(t *testing.T) {
	sevenDays := 7

	valid := func() *Document {
		return &Document{
			ID:             "doc-1",
			ConversationID: "conv-1",
			UserID:         "user-1",
			Filename:       "notes.txt",
			Tier:           TierShortLived,
			TTLDays:        &sevenDays,
		}
	}

	tests := []struct {
		name    string
		mutate  func(d *Document) *Document
		wantErr error
	}{
		{
			name:    "valid indexed document",
			mutate:  func(d *Document) *Document { return d },
			wantErr: nil,
		},
		{
			name: "valid inline document",
			mutate: func(d *Document) *Document {
				d.Tier = TierInline
				d.TTLDays = nil
				return d
			},
			wantErr: nil,
		},
		{
			name:    "nil document",
			mutate:  func(d *Document) *Document { return nil },
			wantErr: ErrInvalidDocument,
		},
		{
			name: "missing conversation",
			mutate: func(d *Document) *Document {
				d.ConversationID = ""
				return d
			},
			wantErr: ErrMissingConversation,
		},
		{
			name: "missing user",
			mutate: func(d *Document) *Document {
				d.UserID = ""
				return d
			},
			wantErr: ErrMissingUser,
		},
		{
			name: "missing filename",
			mutate: func(d *Document) *Document {
				d.Filename = ""
				return d
			},
			wantErr: ErrMissingFilename,
		},
		{
			name: "unknown tier",
			mutate: func(d *Document) *Document {
				d.Tier = Tier(9)
				return d
			},
			wantErr: ErrInvalidTier,
		},
		{
			name: "inline with ttl",
			mutate: func(d *Document) *Document {
				d.Tier = TierInline
				return d
			},
			wantErr: ErrInvalidDocument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.mutate(valid()))
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDocument() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDocument() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateModelProfile(t *testing.T) {
	tests := []struct {
		name    string
		profile ModelProfile
		wantErr bool
	}{
		{"default profile", ModelProfile{ContextWindow: 128000, SmallThreshold: 4000, MediumThreshold: 20000, LargeThreshold: 50000}, false},
		{"equal thresholds", ModelProfile{ContextWindow: 128000, SmallThreshold: 4000, MediumThreshold: 4000, LargeThreshold: 50000}, true},
		{"large above window", ModelProfile{ContextWindow: 10000, SmallThreshold: 1000, MediumThreshold: 5000, LargeThreshold: 20000}, true},
		{"zero small", ModelProfile{ContextWindow: 10000, MediumThreshold: 5000, LargeThreshold: 8000}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateModelProfile(tt.profile)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateModelProfile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidModelProfile) {
				t.Errorf("ValidateModelProfile() error = %v, want ErrInvalidModelProfile", err)
			}
		})
	}
}
