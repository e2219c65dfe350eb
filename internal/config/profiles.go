package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultProfileKey is used when no profile, or an unknown one, is requested.
const DefaultProfileKey = "BALANCED"

const defaultMaxPlansPerLayer = 17

var (
	defaultVariancePct       = decimal.NewFromInt(3)
	defaultMinimumPlanSize   = decimal.NewFromInt(15)
	defaultMinimumRebalance  = decimal.NewFromInt(10)
	defaultMinimumInstrument = decimal.NewFromInt(25)
)

// Profile is a named allocation strategy: target weights per layer plus the
// thresholds every engine step uses.
type Profile struct {
	LayerTargets            map[int]decimal.Decimal `json:"layer_targets"`
	MaxPlansPerLayer        map[int]int             `json:"max_saving_plans_per_layer"`
	Key                     string                  `json:"key"`
	DisplayName             string                  `json:"display_name"`
	Description             string                  `json:"description"`
	AcceptableVariancePct   decimal.Decimal         `json:"acceptable_variance_pct"`
	MinimumSavingPlanSize   decimal.Decimal         `json:"minimum_saving_plan_size"`
	MinimumRebalance        decimal.Decimal         `json:"minimum_rebalancing_amount"`
	MinimumInstrumentAmount decimal.Decimal         `json:"minimum_instrument_amount"`
}

// Overrides replaces selected profile values for a single run.
type Overrides struct {
	LayerTargets            map[int]decimal.Decimal `json:"layer_targets,omitempty"`
	MaxPlansPerLayer        map[int]int             `json:"max_saving_plans_per_layer,omitempty"`
	AcceptableVariancePct   *decimal.Decimal        `json:"acceptable_variance_pct,omitempty"`
	MinimumSavingPlanSize   *decimal.Decimal        `json:"minimum_saving_plan_size,omitempty"`
	MinimumRebalance        *decimal.Decimal        `json:"minimum_rebalancing_amount,omitempty"`
	MinimumInstrumentAmount *decimal.Decimal        `json:"minimum_instrument_amount,omitempty"`
}

// WithOverrides returns a copy of p with o applied. Negative thresholds are
// clamped to zero and invalid layers ignored.
func (p Profile) WithOverrides(o Overrides) Profile {
	out := p
	out.LayerTargets = make(map[int]decimal.Decimal, len(domain.Layers))
	for layer, w := range p.LayerTargets {
		out.LayerTargets[layer] = w
	}
	if len(o.LayerTargets) > 0 {
		out.LayerTargets = make(map[int]decimal.Decimal, len(domain.Layers))
		for layer, w := range o.LayerTargets {
			if domain.IsValidLayer(layer) {
				out.LayerTargets[layer] = w
			}
		}
	}
	out.MaxPlansPerLayer = make(map[int]int, len(domain.Layers))
	for layer, n := range p.MaxPlansPerLayer {
		out.MaxPlansPerLayer[layer] = n
	}
	for layer, n := range o.MaxPlansPerLayer {
		if domain.IsValidLayer(layer) {
			out.MaxPlansPerLayer[layer] = max(0, n)
		}
	}
	if o.AcceptableVariancePct != nil {
		out.AcceptableVariancePct = domain.ClampNonNegative(*o.AcceptableVariancePct)
	}
	if o.MinimumSavingPlanSize != nil {
		out.MinimumSavingPlanSize = domain.ClampNonNegative(*o.MinimumSavingPlanSize)
	}
	if o.MinimumRebalance != nil {
		out.MinimumRebalance = domain.ClampNonNegative(*o.MinimumRebalance)
	}
	if o.MinimumInstrumentAmount != nil {
		out.MinimumInstrumentAmount = domain.ClampNonNegative(*o.MinimumInstrumentAmount)
	}
	return out
}

// Profiles is the set of known profiles keyed by upper-case key.
type Profiles map[string]Profile

// Resolve returns the profile for key. Unknown keys fall back to the
// default profile; the second result reports whether key was found.
func (p Profiles) Resolve(key string) (Profile, bool) {
	if profile, ok := p[strings.ToUpper(strings.TrimSpace(key))]; ok {
		return profile, true
	}
	if profile, ok := p[DefaultProfileKey]; ok {
		return profile, false
	}
	return DefaultProfiles()[DefaultProfileKey], false
}

// Keys returns the profile keys in sorted order.
func (p Profiles) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newProfile(key, name, description string, weights ...float64) Profile {
	targets := make(map[int]decimal.Decimal, len(domain.Layers))
	maxPlans := make(map[int]int, len(domain.Layers))
	for i, layer := range domain.Layers {
		targets[layer] = decimal.NewFromFloat(weights[i])
		maxPlans[layer] = defaultMaxPlansPerLayer
	}
	return Profile{
		Key:                     key,
		DisplayName:             name,
		Description:             description,
		LayerTargets:            targets,
		MaxPlansPerLayer:        maxPlans,
		AcceptableVariancePct:   defaultVariancePct,
		MinimumSavingPlanSize:   defaultMinimumPlanSize,
		MinimumRebalance:        defaultMinimumRebalance,
		MinimumInstrumentAmount: defaultMinimumInstrument,
	}
}

// DefaultProfiles returns the built-in profiles.
func DefaultProfiles() Profiles {
	return Profiles{
		"CLASSIC": newProfile("CLASSIC", "Classic",
			"Very conservative allocation focused on the global core.", 0.80, 0.15, 0.04, 0.01, 0),
		"BALANCED": newProfile("BALANCED", "Balanced",
			"Balanced mix of core and satellite themes.", 0.70, 0.20, 0.08, 0.02, 0),
		"GROWTH": newProfile("GROWTH", "Growth",
			"Higher weight on thematic and growth segments.", 0.60, 0.20, 0.15, 0.05, 0),
		"AGGRESSIVE": newProfile("AGGRESSIVE", "Aggressive",
			"Growth heavy profile with elevated thematic and emerging exposure.", 0.50, 0.15, 0.25, 0.10, 0),
		"OPPORTUNITY": newProfile("OPPORTUNITY", "Opportunity",
			"Highest share of thematic and individual stock exposures.", 0.40, 0.10, 0.30, 0.20, 0),
	}
}

type profileFile struct {
	Profiles map[string]profileEntry `yaml:"profiles"`
}

type profileEntry struct {
	LayerTargets            map[int]float64 `yaml:"layer_targets"`
	MaxPlansPerLayer        map[int]int     `yaml:"max_saving_plans_per_layer"`
	AcceptableVariancePct   *float64        `yaml:"acceptable_variance_pct"`
	MinimumSavingPlanSize   *float64        `yaml:"minimum_saving_plan_size"`
	MinimumRebalance        *float64        `yaml:"minimum_rebalancing_amount"`
	MinimumInstrumentAmount *float64        `yaml:"minimum_instrument_amount"`
	DisplayName             string          `yaml:"display_name"`
	Description             string          `yaml:"description"`
}

// LoadProfiles returns the built-in profiles merged with the YAML file at
// path. Entries for known keys override only the fields they set; new keys
// start from the default profile. An empty path yields the defaults.
func LoadProfiles(path string) (Profiles, error) {
	profiles := DefaultProfiles()
	if path == "" {
		return profiles, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}
	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file: %w", err)
	}

	for rawKey, entry := range file.Profiles {
		key := strings.ToUpper(strings.TrimSpace(rawKey))
		if key == "" {
			continue
		}
		base, ok := profiles[key]
		if !ok {
			base = profiles[DefaultProfileKey]
			base.Key = key
			base.DisplayName = key
			base.Description = ""
		}
		overrides, err := entry.overrides(key)
		if err != nil {
			return nil, err
		}
		merged := base.WithOverrides(overrides)
		if entry.DisplayName != "" {
			merged.DisplayName = entry.DisplayName
		}
		if entry.Description != "" {
			merged.Description = entry.Description
		}
		profiles[key] = merged
	}
	return profiles, nil
}

func (e profileEntry) overrides(key string) (Overrides, error) {
	var o Overrides
	if len(e.LayerTargets) > 0 {
		o.LayerTargets = make(map[int]decimal.Decimal, len(e.LayerTargets))
		for layer, w := range e.LayerTargets {
			if !domain.IsValidLayer(layer) {
				return Overrides{}, fmt.Errorf("profile %s: %w", key, domain.ErrInvalidLayer)
			}
			value, err := domain.DecimalFromFloat(fmt.Sprintf("profile %s layer %d", key, layer), w)
			if err != nil {
				return Overrides{}, err
			}
			o.LayerTargets[layer] = value
		}
	}
	o.MaxPlansPerLayer = e.MaxPlansPerLayer

	fields := []struct {
		name   string
		source *float64
		target **decimal.Decimal
	}{
		{"acceptable_variance_pct", e.AcceptableVariancePct, &o.AcceptableVariancePct},
		{"minimum_saving_plan_size", e.MinimumSavingPlanSize, &o.MinimumSavingPlanSize},
		{"minimum_rebalancing_amount", e.MinimumRebalance, &o.MinimumRebalance},
		{"minimum_instrument_amount", e.MinimumInstrumentAmount, &o.MinimumInstrumentAmount},
	}
	for _, f := range fields {
		if f.source == nil {
			continue
		}
		value, err := domain.DecimalFromFloat(fmt.Sprintf("profile %s %s", key, f.name), *f.source)
		if err != nil {
			return Overrides{}, err
		}
		*f.target = &value
	}
	return o, nil
}
