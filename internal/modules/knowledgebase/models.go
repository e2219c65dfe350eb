// Package knowledgebase holds the instrument reference data (cost, benchmark,
// exposures, valuation) the allocation engine reads, and the gating rules
// that decide whether that data is complete enough to act on.
package knowledgebase

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aristath/layerwise/internal/domain"
)

// Status is the review state of a knowledge-base record.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusPending  Status = "PENDING"
	StatusComplete Status = "COMPLETE"
	StatusApproved Status = "APPROVED"
	StatusApplied  Status = "APPLIED"
	StatusFailed   Status = "FAILED"
)

// IsComplete reports whether a record in this state may be used for weighting.
func (s Status) IsComplete() bool {
	switch Status(strings.ToUpper(strings.TrimSpace(string(s)))) {
	case StatusComplete, StatusApproved, StatusApplied:
		return true
	}
	return false
}

// Exposure is one named slice of an instrument (region, holding, sector).
// WeightPct accepts either a fraction (0.25) or a percentage (25).
type Exposure struct {
	WeightPct *float64 `json:"weight_pct,omitempty" yaml:"weight_pct,omitempty" msgpack:"weight_pct,omitempty"`
	Name      string   `json:"name" yaml:"name" msgpack:"name"`
}

// ETFData carries fund-specific reference data.
type ETFData struct {
	OngoingChargesPct *float64 `json:"ongoing_charges_pct,omitempty" yaml:"ongoing_charges_pct,omitempty" msgpack:"ongoing_charges_pct,omitempty"`
	BenchmarkIndex    string   `json:"benchmark_index,omitempty" yaml:"benchmark_index,omitempty" msgpack:"benchmark_index,omitempty"`
}

// Valuation carries the valuation metrics used for scoring. Every field is
// optional; a missing metric simply does not contribute.
type Valuation struct {
	EarningsYieldLongterm    *float64 `json:"earnings_yield_longterm,omitempty" yaml:"earnings_yield_longterm,omitempty" msgpack:"ey_longterm,omitempty"`
	PELongterm               *float64 `json:"pe_longterm,omitempty" yaml:"pe_longterm,omitempty" msgpack:"pe_longterm,omitempty"`
	EarningsYieldTTMHoldings *float64 `json:"earnings_yield_ttm_holdings,omitempty" yaml:"earnings_yield_ttm_holdings,omitempty" msgpack:"ey_ttm_holdings,omitempty"`
	PETTMHoldings            *float64 `json:"pe_ttm_holdings,omitempty" yaml:"pe_ttm_holdings,omitempty" msgpack:"pe_ttm_holdings,omitempty"`
	PECurrent                *float64 `json:"pe_current,omitempty" yaml:"pe_current,omitempty" msgpack:"pe_current,omitempty"`
	PBCurrent                *float64 `json:"pb_current,omitempty" yaml:"pb_current,omitempty" msgpack:"pb_current,omitempty"`
	EVToEBITDA               *float64 `json:"ev_to_ebitda,omitempty" yaml:"ev_to_ebitda,omitempty" msgpack:"ev_to_ebitda,omitempty"`
	DividendYield            *float64 `json:"dividend_yield,omitempty" yaml:"dividend_yield,omitempty" msgpack:"dividend_yield,omitempty"`
	PEMethod                 string   `json:"pe_method,omitempty" yaml:"pe_method,omitempty" msgpack:"pe_method,omitempty"`
	PEHorizon                string   `json:"pe_horizon,omitempty" yaml:"pe_horizon,omitempty" msgpack:"pe_horizon,omitempty"`
	NegEarningsHandling      string   `json:"neg_earnings_handling,omitempty" yaml:"neg_earnings_handling,omitempty" msgpack:"neg_earnings_handling,omitempty"`
}

// Record is the reference data of one instrument.
type Record struct {
	UpdatedAt      time.Time  `json:"updated_at" yaml:"updated_at,omitempty" msgpack:"updated_at"`
	ETF            *ETFData   `json:"etf,omitempty" yaml:"etf,omitempty" msgpack:"etf,omitempty"`
	Valuation      *Valuation `json:"valuation,omitempty" yaml:"valuation,omitempty" msgpack:"valuation,omitempty"`
	RiskScore      *int       `json:"risk_score,omitempty" yaml:"risk_score,omitempty" msgpack:"risk_score,omitempty"`
	ISIN           string     `json:"isin" yaml:"isin" msgpack:"isin"`
	Name           string     `json:"name" yaml:"name" msgpack:"name"`
	Status         Status     `json:"status" yaml:"status" msgpack:"status"`
	InstrumentType string     `json:"instrument_type,omitempty" yaml:"instrument_type,omitempty" msgpack:"instrument_type,omitempty"`
	AssetClass     string     `json:"asset_class,omitempty" yaml:"asset_class,omitempty" msgpack:"asset_class,omitempty"`
	SubClass       string     `json:"sub_class,omitempty" yaml:"sub_class,omitempty" msgpack:"sub_class,omitempty"`
	LayerNotes     string     `json:"layer_notes,omitempty" yaml:"layer_notes,omitempty" msgpack:"layer_notes,omitempty"`
	GICSSector     string     `json:"gics_sector,omitempty" yaml:"gics_sector,omitempty" msgpack:"gics_sector,omitempty"`
	Regions        []Exposure `json:"regions,omitempty" yaml:"regions,omitempty" msgpack:"regions,omitempty"`
	TopHoldings    []Exposure `json:"top_holdings,omitempty" yaml:"top_holdings,omitempty" msgpack:"top_holdings,omitempty"`
	Sectors        []Exposure `json:"sectors,omitempty" yaml:"sectors,omitempty" msgpack:"sectors,omitempty"`
	MissingFields  []string   `json:"missing_fields,omitempty" yaml:"missing_fields,omitempty" msgpack:"missing_fields,omitempty"`
	Warnings       []string   `json:"warnings,omitempty" yaml:"warnings,omitempty" msgpack:"warnings,omitempty"`
	Layer          int        `json:"layer" yaml:"layer" msgpack:"layer"`
}

// IsComplete reports whether the record passed review.
func (r Record) IsComplete() bool {
	return r.Status.IsComplete()
}

// OngoingCharges returns the TER when known.
func (r Record) OngoingCharges() (float64, bool) {
	if r.ETF == nil || r.ETF.OngoingChargesPct == nil {
		return 0, false
	}
	return *r.ETF.OngoingChargesPct, true
}

// Benchmark returns the trimmed benchmark index, or "".
func (r Record) Benchmark() string {
	if r.ETF == nil {
		return ""
	}
	return strings.TrimSpace(r.ETF.BenchmarkIndex)
}

// IsFund reports whether the instrument is an ETF, UCITS product or fund.
func (r Record) IsFund() bool {
	t := NormalizeLabel(r.InstrumentType)
	return strings.Contains(t, "etf") || strings.Contains(t, "ucits") ||
		strings.Contains(NormalizeLabel(r.AssetClass), "fund")
}

// IsREIT reports whether the instrument is a real estate investment trust.
func (r Record) IsREIT() bool {
	return strings.Contains(NormalizeLabel(r.InstrumentType), "reit") ||
		strings.Contains(NormalizeLabel(r.SubClass), "reit") ||
		strings.Contains(NormalizeLabel(r.LayerNotes), "reit")
}

// IsSingleStock reports whether the instrument is one company's shares.
func (r Record) IsSingleStock() bool {
	notes := NormalizeLabel(r.LayerNotes)
	if strings.Contains(notes, "single stock") || strings.Contains(notes, "single-company") ||
		strings.Contains(notes, "single issuer") {
		return true
	}
	if strings.Contains(NormalizeLabel(r.SubClass), "single-stock") {
		return true
	}
	t := NormalizeLabel(r.InstrumentType)
	return (strings.Contains(t, "share") || strings.Contains(t, "equity") || strings.Contains(t, "stock")) &&
		!strings.Contains(t, "etf")
}

// ProductType maps the record onto the shared product type.
func (r Record) ProductType() domain.ProductType {
	if r.IsREIT() {
		return domain.ProductTypeREIT
	}
	return domain.ParseProductType(r.InstrumentType)
}

// RegionNames returns the normalised region labels, sorted.
func (r Record) RegionNames() []string { return exposureNames(r.Regions, "") }

// HoldingNames returns the normalised top-holding labels, sorted.
func (r Record) HoldingNames() []string { return exposureNames(r.TopHoldings, "") }

// SectorNames returns the normalised sector labels, falling back to the GICS sector.
func (r Record) SectorNames() []string { return exposureNames(r.Sectors, r.GICSSector) }

// RegionWeights returns region weights as fractions.
func (r Record) RegionWeights() map[string]float64 { return exposureWeights(r.Regions, "") }

// HoldingWeights returns top-holding weights as fractions.
func (r Record) HoldingWeights() map[string]float64 { return exposureWeights(r.TopHoldings, "") }

// SectorWeights returns sector weights as fractions; a bare GICS sector counts as 100%.
func (r Record) SectorWeights() map[string]float64 { return exposureWeights(r.Sectors, r.GICSSector) }

var (
	accPattern  = regexp.MustCompile(`(?i)\bacc(?:umulating)?\b`)
	distPattern = regexp.MustCompile(`(?i)\bdist(?:ributing|ribution)?\b`)
)

// Distribution infers the share class ("accumulating" or "distributing")
// from the name and layer notes. It returns "" when neither is mentioned.
func (r Record) Distribution() string {
	content := strings.TrimSpace(r.Name + " " + r.LayerNotes)
	switch {
	case content == "":
		return ""
	case accPattern.MatchString(content):
		return "accumulating"
	case distPattern.MatchString(content):
		return "distributing"
	}
	return ""
}

// NormalizeLabel trims and lower-cases a free-form label.
func NormalizeLabel(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NormalizeWeight converts a percentage (> 1) into a fraction. Non-positive
// weights are reported as absent.
func NormalizeWeight(weight *float64) (float64, bool) {
	if weight == nil || *weight <= 0 {
		return 0, false
	}
	if *weight > 1 {
		return *weight / 100, true
	}
	return *weight, true
}

func exposureNames(exposures []Exposure, fallback string) []string {
	seen := make(map[string]struct{})
	for _, e := range exposures {
		if name := NormalizeLabel(e.Name); name != "" {
			seen[name] = struct{}{}
		}
	}
	if len(seen) == 0 {
		if name := NormalizeLabel(fallback); name != "" {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func exposureWeights(exposures []Exposure, fallback string) map[string]float64 {
	weights := make(map[string]float64)
	for _, e := range exposures {
		name := NormalizeLabel(e.Name)
		if name == "" {
			continue
		}
		if w, ok := NormalizeWeight(e.WeightPct); ok {
			weights[name] = w
		}
	}
	if len(weights) == 0 {
		if name := NormalizeLabel(fallback); name != "" {
			weights[name] = 1
		}
	}
	return weights
}
