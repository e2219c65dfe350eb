package rebalancing

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/layerwise/internal/config"
	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/instruments"
	"github.com/aristath/layerwise/internal/modules/suggestions"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PlanChangeType classifies a proposed saving plan change.
type PlanChangeType string

const (
	PlanChangeCreate   PlanChangeType = "create"
	PlanChangeDecrease PlanChangeType = "decrease"
	PlanChangeDiscard  PlanChangeType = "discard"
	PlanChangeIncrease PlanChangeType = "increase"
)

const (
	noteEmptyBudget     = "No active monthly saving plans to rebalance."
	noteWithinTolerance = "Within tolerance; no saving plan changes proposed."
	noteRaisedLayerOne  = "Increased Layer 1 to the minimum saving plan size."
	noteAdjustedLayers  = "Adjusted layers below minimum saving plan size: %v"
)

var planRationales = map[PlanChangeType]string{
	PlanChangeDiscard:  "Discard to avoid sub-minimum saving plan size.",
	PlanChangeCreate:   "Create to align with target layer allocation.",
	PlanChangeIncrease: "Increase to align with target layer allocation.",
	PlanChangeDecrease: "Decrease to align with target layer allocation.",
}

// ProposalBuilder turns layer budgets into per-instrument proposals.
type ProposalBuilder interface {
	BuildProposals(instruments []instruments.Instrument, layerBudgets map[int]decimal.Decimal, minimumPlanSize, minimumRebalance decimal.Decimal, withinTolerance bool) (*instruments.ProposalResult, error)
}

// Suggester proposes new instruments for unplaced budgets.
type Suggester interface {
	Suggest(req suggestions.SuggestionRequest) (*suggestions.SuggestionResult, error)
}

// AssessmentRequest describes one assessment run.
type AssessmentRequest struct {
	Overrides       config.Overrides        `json:"overrides"`
	HoldingsByLayer map[int]decimal.Decimal `json:"holdings_by_layer,omitempty"`
	Profile         string                  `json:"profile"`
	Policy          string                  `json:"gap_detection_policy,omitempty"`
	Plans           []domain.RecurringPlan  `json:"saving_plans"`
	// Instruments defaults to the saving plans aggregated by ISIN.
	Instruments     []instruments.Instrument `json:"instruments,omitempty"`
	ExistingISINs   []string                 `json:"existing_isins,omitempty"`
	ExcludedISINs   []string                 `json:"excluded_isins,omitempty"`
	SavingPlanDelta decimal.Decimal          `json:"saving_plan_delta"`
	OneTimeAmount   decimal.Decimal          `json:"one_time_amount"`
}

// PlanSuggestion is a proposed change to one saving plan.
type PlanSuggestion struct {
	Type      PlanChangeType  `json:"type"`
	ISIN      string          `json:"isin"`
	AccountID string          `json:"account_id"`
	Name      string          `json:"name,omitempty"`
	Rationale string          `json:"rationale"`
	OldAmount decimal.Decimal `json:"old_amount"`
	NewAmount decimal.Decimal `json:"new_amount"`
	Delta     decimal.Decimal `json:"delta"`
	Layer     int             `json:"layer"`
}

// AssessmentDiagnostics summarises the adjustments made during a run.
type AssessmentDiagnostics struct {
	Notes                   []string        `json:"notes"`
	SuppressedAmountTotal   decimal.Decimal `json:"suppressed_amount_total"`
	SuppressedDeltasCount   int             `json:"suppressed_deltas_count"`
	WithinTolerance         bool            `json:"within_tolerance"`
	MinimumRebalanceRelaxed bool            `json:"minimum_rebalance_relaxed"`
}

// AssessmentResult is everything one run produced.
type AssessmentResult struct {
	GeneratedAt           time.Time                     `json:"generated_at"`
	LayerDeltas           *LayerDeltaResult             `json:"layer_deltas,omitempty"`
	OneTime               *OneTimeAllocation            `json:"one_time_allocation,omitempty"`
	Instruments           *instruments.ProposalResult   `json:"instrument_proposals,omitempty"`
	Suggestions           *suggestions.SuggestionResult `json:"suggestions,omitempty"`
	CurrentLayers         map[int]decimal.Decimal       `json:"current_layers"`
	TargetLayers          map[int]decimal.Decimal       `json:"target_layers"`
	RunID                 string                        `json:"run_id"`
	SavingPlanSuggestions []PlanSuggestion              `json:"saving_plan_suggestions"`
	Profile               config.Profile                `json:"profile"`
	Diagnostics           AssessmentDiagnostics         `json:"diagnostics"`
	MonthlyTotal          decimal.Decimal               `json:"monthly_total"`
}

// Assessor runs the whole allocation pipeline for one portfolio.
type Assessor struct {
	profiles  config.Profiles
	proposals ProposalBuilder
	suggester Suggester
	now       func() time.Time
	log       zerolog.Logger
}

// NewAssessor creates an assessor. A nil proposal builder or suggester skips
// that part of the assessment.
func NewAssessor(profiles config.Profiles, proposals ProposalBuilder, suggester Suggester, log zerolog.Logger) *Assessor {
	if len(profiles) == 0 {
		profiles = config.DefaultProfiles()
	}
	return &Assessor{
		profiles:  profiles,
		proposals: proposals,
		suggester: suggester,
		now:       time.Now,
		log:       log.With().Str("service", "assessor").Logger(),
	}
}

// Assess computes layer targets for the monthly saving total, spreads the
// resulting layer changes over the saving plans, allocates the one-time
// amount and, when configured, builds instrument proposals and suggestions
// for whatever could not be placed into existing plans.
func (a *Assessor) Assess(req AssessmentRequest) (*AssessmentResult, error) {
	profile, found := a.profiles.Resolve(req.Profile)
	profile = profile.WithOverrides(req.Overrides)

	plans, err := normalizePlans(req.Plans)
	if err != nil {
		return nil, fmt.Errorf("assessment: %w", err)
	}
	current := layerTotals(plans)
	currentTotal := domain.SumAmounts(current)
	monthly := domain.ClampNonNegative(currentTotal.Add(req.SavingPlanDelta)).Round(domain.AmountScale)

	result := &AssessmentResult{
		RunID:                 uuid.NewString(),
		GeneratedAt:           a.now().UTC(),
		Profile:               profile,
		MonthlyTotal:          monthly,
		CurrentLayers:         current,
		TargetLayers:          zeroLayers(),
		SavingPlanSuggestions: []PlanSuggestion{},
		Diagnostics: AssessmentDiagnostics{
			Notes:                 []string{},
			SuppressedAmountTotal: decimal.Zero,
		},
	}
	if !found && req.Profile != "" {
		result.Diagnostics.Notes = append(result.Diagnostics.Notes,
			fmt.Sprintf("Unknown profile %q, using %s.", req.Profile, profile.Key))
	}

	logger := a.log.With().Str("run_id", result.RunID).Str("profile", profile.Key).Logger()
	planTargets := copyLayers(current)
	savingBudgets := map[int]decimal.Decimal{}
	withinTolerance := true

	if !monthly.IsPositive() && !currentTotal.IsPositive() {
		result.Diagnostics.WithinTolerance = true
		result.Diagnostics.Notes = append(result.Diagnostics.Notes, noteEmptyBudget)
	} else {
		weights := NormalizeTargets(profile.LayerTargets)
		floor := applyMinimumSavingPlan(TargetAmounts(weights, monthly), profile.MinimumSavingPlanSize)
		result.TargetLayers = floor.amounts
		if len(floor.zeroed) > 0 {
			result.Diagnostics.Notes = append(result.Diagnostics.Notes, fmt.Sprintf(noteAdjustedLayers, floor.zeroed))
		}
		if floor.raisedLayerOne {
			result.Diagnostics.Notes = append(result.Diagnostics.Notes, noteRaisedLayerOne)
		}

		variance := profile.AcceptableVariancePct
		deltas, err := CalculateLayerDeltas(LayerDeltaInput{
			Current:               current,
			Targets:               weights,
			TargetAmounts:         floor.amounts,
			Total:                 monthly,
			AcceptableVariancePct: &variance,
			MinimumRebalance:      profile.MinimumRebalance,
		})
		if err != nil {
			return nil, fmt.Errorf("assessment: %w", err)
		}

		withinTolerance = deltas.Diagnostics.WithinTolerance && !floor.changed && req.SavingPlanDelta.IsZero()
		result.Diagnostics.WithinTolerance = deltas.Diagnostics.WithinTolerance
		logger.Debug().
			Bool("within_tolerance", deltas.Diagnostics.WithinTolerance).
			Bool("floor_changed", floor.changed).
			Str("monthly_total", monthly.String()).
			Msg("Layer targets resolved")

		if withinTolerance {
			result.Diagnostics.Notes = append(result.Diagnostics.Notes, noteWithinTolerance)
		} else {
			result.LayerDeltas = deltas
			result.Diagnostics.SuppressedDeltasCount = deltas.Diagnostics.SuppressedDeltasCount
			result.Diagnostics.SuppressedAmountTotal = deltas.Diagnostics.SuppressedAmountTotal
			result.Diagnostics.Notes = append(result.Diagnostics.Notes, deltas.Diagnostics.RedistributionNotes...)

			byLayer := plansByLayer(plans)
			for _, layer := range domain.Layers {
				target := current[layer].Add(deltas.Deltas[layer])
				planTargets[layer] = target
				if len(byLayer[layer]) == 0 && deltas.Deltas[layer].IsZero() {
					continue
				}
				alloc := AllocatePlans(byLayer[layer], target, profile.MinimumRebalance, profile.MinimumSavingPlanSize)
				for _, note := range alloc.Notes {
					result.Diagnostics.Notes = append(result.Diagnostics.Notes, fmt.Sprintf("Layer %d: %s", layer, note))
				}
				if alloc.MinimumRebalanceRelaxed {
					result.Diagnostics.MinimumRebalanceRelaxed = true
				}
				result.SavingPlanSuggestions = append(result.SavingPlanSuggestions,
					planSuggestions(byLayer[layer], alloc)...)

				unplaced := deltas.Deltas[layer].Sub(domain.SumAmounts(alloc.Deltas))
				if unplaced.IsPositive() {
					savingBudgets[layer] = unplaced
				}
			}
			sortPlanSuggestions(result.SavingPlanSuggestions)
		}
	}

	if req.OneTimeAmount.IsPositive() {
		oneTime := AllocateOneTime(OneTimeInput{
			Amount:                  req.OneTimeAmount,
			Targets:                 profile.LayerTargets,
			Holdings:                req.HoldingsByLayer,
			Plans:                   plans,
			MinimumRebalance:        profile.MinimumRebalance,
			MinimumInstrumentAmount: profile.MinimumInstrumentAmount,
		})
		result.OneTime = &oneTime
	}

	if a.proposals != nil {
		held := req.Instruments
		if len(held) == 0 {
			held = instrumentsFromPlans(plans)
		}
		proposals, err := a.proposals.BuildProposals(held, planTargets,
			profile.MinimumSavingPlanSize, profile.MinimumRebalance, withinTolerance)
		if err != nil {
			return nil, fmt.Errorf("assessment: %w", err)
		}
		result.Instruments = proposals
	}

	if a.suggester != nil {
		oneTimeBudgets := map[int]decimal.Decimal{}
		if result.OneTime != nil {
			oneTimeBudgets = result.OneTime.Layers
		}
		suggested, err := a.suggester.Suggest(suggestions.SuggestionRequest{
			CurrentLayerTotals:      current,
			SavingPlanBudgets:       savingBudgets,
			OneTimeBudgets:          oneTimeBudgets,
			MaxPlansPerLayer:        profile.MaxPlansPerLayer,
			Policy:                  suggestions.ParseGapDetectionPolicy(req.Policy),
			Plans:                   plans,
			ExistingISINs:           req.ExistingISINs,
			ExcludedISINs:           req.ExcludedISINs,
			MinimumPlanSize:         profile.MinimumSavingPlanSize,
			MinimumRebalance:        profile.MinimumRebalance,
			MinimumInstrumentAmount: profile.MinimumInstrumentAmount,
		})
		if err != nil {
			return nil, fmt.Errorf("assessment: %w", err)
		}
		result.Suggestions = suggested
	}

	logger.Info().
		Int("plan_changes", len(result.SavingPlanSuggestions)).
		Bool("within_tolerance", withinTolerance).
		Msg("Assessment completed")
	return result, nil
}

// savingPlanFloor is the outcome of applyMinimumSavingPlan.
type savingPlanFloor struct {
	amounts        map[int]decimal.Decimal
	zeroed         []int
	raisedLayerOne bool
	changed        bool
}

// applyMinimumSavingPlan moves every layer target under minimum, from layer 5
// down to layer 2, into the layer below it. A lone layer 1 target under the
// minimum is raised to it.
func applyMinimumSavingPlan(targets map[int]decimal.Decimal, minimum decimal.Decimal) savingPlanFloor {
	floor := savingPlanFloor{amounts: copyLayers(targets)}
	if !minimum.IsPositive() {
		return floor
	}
	for layer := len(domain.Layers); layer >= 2; layer-- {
		if v := floor.amounts[layer]; v.IsPositive() && v.LessThan(minimum) {
			floor.amounts[layer] = decimal.Zero
			floor.amounts[layer-1] = floor.amounts[layer-1].Add(v)
			floor.zeroed = append(floor.zeroed, layer)
		}
	}

	funded := 0
	for _, layer := range domain.Layers {
		if floor.amounts[layer].IsPositive() {
			funded++
		}
	}
	if one := floor.amounts[1]; funded == 1 && one.IsPositive() && one.LessThan(minimum) {
		floor.amounts[1] = minimum
		floor.raisedLayerOne = true
	}

	for _, layer := range domain.Layers {
		if !floor.amounts[layer].Equal(targets[layer]) {
			floor.changed = true
			break
		}
	}
	return floor
}

func planSuggestions(plans []domain.RecurringPlan, alloc PlanAllocation) []PlanSuggestion {
	names := make(map[domain.PlanKey]string)
	layers := make(map[domain.PlanKey]int)
	old := make(map[domain.PlanKey]decimal.Decimal)
	for _, plan := range plans {
		key := plan.Key()
		if names[key] == "" {
			names[key] = plan.Name
		}
		layers[key] = plan.Layer
		old[key] = old[key].Add(plan.Amount.Round(domain.AmountScale))
	}

	var out []PlanSuggestion
	for key, delta := range alloc.Deltas {
		if delta.IsZero() {
			continue
		}
		before := old[key]
		after := alloc.Proposed[key]
		kind := changeType(before, after)
		out = append(out, PlanSuggestion{
			Type:      kind,
			ISIN:      key.ISIN,
			AccountID: key.AccountID,
			Name:      names[key],
			Layer:     layers[key],
			OldAmount: before,
			NewAmount: after,
			Delta:     delta,
			Rationale: planRationales[kind],
		})
	}
	return out
}

func changeType(before, after decimal.Decimal) PlanChangeType {
	switch {
	case after.IsZero() && before.IsPositive():
		return PlanChangeDiscard
	case before.IsZero() && after.IsPositive():
		return PlanChangeCreate
	case after.LessThan(before):
		return PlanChangeDecrease
	}
	return PlanChangeIncrease
}

func sortPlanSuggestions(s []PlanSuggestion) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Type != s[j].Type {
			return s[i].Type < s[j].Type
		}
		if s[i].ISIN != s[j].ISIN {
			return s[i].ISIN < s[j].ISIN
		}
		return s[i].AccountID < s[j].AccountID
	})
}

// normalizePlans upper-cases ISINs, clamps negative amounts and rejects plans
// outside the known layers.
func normalizePlans(plans []domain.RecurringPlan) ([]domain.RecurringPlan, error) {
	out := make([]domain.RecurringPlan, 0, len(plans))
	for _, plan := range plans {
		plan.ISIN = domain.NormalizeISIN(plan.ISIN)
		if plan.ISIN == "" {
			continue
		}
		if !domain.IsValidLayer(plan.Layer) {
			return nil, fmt.Errorf("plan %s layer %d: %w", plan.ISIN, plan.Layer, domain.ErrInvalidLayer)
		}
		plan.Amount = domain.ClampNonNegative(plan.Amount)
		out = append(out, plan)
	}
	return out, nil
}

func plansByLayer(plans []domain.RecurringPlan) map[int][]domain.RecurringPlan {
	out := make(map[int][]domain.RecurringPlan)
	for _, plan := range plans {
		out[plan.Layer] = append(out[plan.Layer], plan)
	}
	return out
}

func layerTotals(plans []domain.RecurringPlan) map[int]decimal.Decimal {
	out := zeroLayers()
	for _, plan := range plans {
		out[plan.Layer] = out[plan.Layer].Add(plan.Amount.Round(domain.AmountScale))
	}
	return out
}

// instrumentsFromPlans sums the plans of each ISIN across accounts.
func instrumentsFromPlans(plans []domain.RecurringPlan) []instruments.Instrument {
	index := make(map[string]int)
	var out []instruments.Instrument
	for _, plan := range plans {
		i, ok := index[plan.ISIN]
		if !ok {
			index[plan.ISIN] = len(out)
			out = append(out, instruments.Instrument{
				ISIN:        plan.ISIN,
				Name:        plan.Name,
				Layer:       plan.Layer,
				Amount:      plan.Amount.Round(domain.AmountScale),
				LastChanged: plan.LastChanged,
			})
			continue
		}
		out[i].Amount = out[i].Amount.Add(plan.Amount.Round(domain.AmountScale))
		if plan.LastChanged != nil && (out[i].LastChanged == nil || plan.LastChanged.After(*out[i].LastChanged)) {
			out[i].LastChanged = plan.LastChanged
		}
	}
	return out
}

func zeroLayers() map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal, len(domain.Layers))
	for _, layer := range domain.Layers {
		out[layer] = decimal.Zero
	}
	return out
}

func copyLayers(values map[int]decimal.Decimal) map[int]decimal.Decimal {
	out := zeroLayers()
	for layer, v := range values {
		out[layer] = v
	}
	return out
}
