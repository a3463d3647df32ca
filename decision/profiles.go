package decision

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/poiesic/doctier/core"
	"gopkg.in/yaml.v3"
)

// DefaultProfileName names the profile used for unknown models.
const DefaultProfileName = "default"

var builtinProfiles = []core.ModelProfile{
	{Name: "gpt-4o-mini", ContextWindow: 128_000, SmallThreshold: 4_000, MediumThreshold: 20_000, LargeThreshold: 50_000},
	{Name: "gpt-5-nano", ContextWindow: 400_000, SmallThreshold: 10_000, MediumThreshold: 50_000, LargeThreshold: 100_000},
	{Name: DefaultProfileName, ContextWindow: 128_000, SmallThreshold: 4_000, MediumThreshold: 20_000, LargeThreshold: 50_000},
}

// Profiles is a concurrency-safe registry of model profiles keyed by model name.
// Lookups of unregistered names return the "default" profile.
type Profiles struct {
	mu       sync.RWMutex
	profiles map[string]core.ModelProfile
}

// DefaultProfiles returns a registry seeded with the built-in model profiles.
func DefaultProfiles() *Profiles {
	p := &Profiles{profiles: make(map[string]core.ModelProfile, len(builtinProfiles))}
	for _, profile := range builtinProfiles {
		p.profiles[profile.Name] = profile
	}
	return p
}

// Lookup returns the profile registered for model, or the default profile.
// The returned profile's Name is always the requested model.
func (p *Profiles) Lookup(model string) core.ModelProfile {
	key := normalizeName(model)

	p.mu.RLock()
	defer p.mu.RUnlock()

	profile, ok := p.profiles[key]
	if !ok {
		profile = p.profiles[DefaultProfileName]
	}
	if model != "" {
		profile.Name = model
	}
	return profile
}

// Known reports whether model has its own registered profile.
func (p *Profiles) Known(model string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.profiles[normalizeName(model)]
	return ok
}

// Set registers or replaces a profile. Registering "default" changes the
// fallback used for unknown models.
func (p *Profiles) Set(profile core.ModelProfile) error {
	profile.Name = normalizeName(profile.Name)
	if profile.Name == "" {
		return fmt.Errorf("%w: name is empty", core.ErrInvalidModelProfile)
	}
	if err := core.ValidateModelProfile(profile); err != nil {
		return fmt.Errorf("profile %q: %w", profile.Name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[profile.Name] = profile
	return nil
}

// Names returns the registered model names in sorted order.
func (p *Profiles) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.profiles))
	for name := range p.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decide looks up the profile for model and classifies the document against it.
func (p *Profiles) Decide(tokenCount int, model string, inlineSize int) core.TierDecision {
	return Decide(tokenCount, p.Lookup(model), inlineSize)
}

// SetAll registers every profile, stopping at the first invalid one.
func (p *Profiles) SetAll(profiles []core.ModelProfile) error {
	for _, profile := range profiles {
		if err := p.Set(profile); err != nil {
			return err
		}
	}
	return nil
}

// LoadProfiles reads a YAML document of the form
//
//	profiles:
//	  - name: gpt-4o-mini
//	    context_window: 128000
//	    small_threshold: 4000
//	    medium_threshold: 20000
//	    large_threshold: 50000
//
// and returns the built-in registry with those profiles added or replaced.
func LoadProfiles(r io.Reader) (*Profiles, error) {
	var doc struct {
		Profiles []core.ModelProfile `yaml:"profiles"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	p := DefaultProfiles()
	if err := p.SetAll(doc.Profiles); err != nil {
		return nil, err
	}
	return p, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
