package suggestions

import (
	"fmt"
	"sort"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/allocation"
	"github.com/aristath/layerwise/internal/modules/knowledgebase"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// MaxSuggestionsPerLayer caps suggestions per layer and path.
	MaxSuggestionsPerLayer = 3
	// DefaultMaxPlansPerLayer applies to layers missing from MaxPlansPerLayer.
	DefaultMaxPlansPerLayer = 17
)

// Service detects coverage gaps and picks catalog instruments to fill them.
type Service struct {
	fetcher knowledgebase.Fetcher
	catalog knowledgebase.Catalog
	log     zerolog.Logger
}

// NewService creates a new suggestion service. Without a fetcher or catalog
// nothing is ever suggested.
func NewService(fetcher knowledgebase.Fetcher, catalog knowledgebase.Catalog, log zerolog.Logger) *Service {
	return &Service{
		fetcher: fetcher,
		catalog: catalog,
		log:     log.With().Str("service", "suggestions").Logger(),
	}
}

// layerInput is what one layer's selection needs.
type layerInput struct {
	candidates []profile
	held       []profile
	plans      []profile
	heldSet    map[string]bool
	planSet    map[string]bool
	excluded   map[string]bool
}

type selection struct {
	profile   profile
	action    Action
	rationale string
}

// Suggest proposes instruments for layers with a positive budget.
//
// For recurring plans, a layer is considered when it lacks a category the
// catalog offers or has no plan at all. Each gap gets the best-scoring
// candidate that matches it. Once the layer runs out of plan slots, or no
// candidate fits, the best held instrument matching the gap is increased
// instead. Layers without gaps get a baseline of the best candidates. The
// one-time path works the same way against the coverage of every holding.
func (s *Service) Suggest(req SuggestionRequest) (*SuggestionResult, error) {
	savingBudgets := positiveBudgets(req.SavingPlanBudgets)
	oneTimeBudgets := positiveBudgets(req.OneTimeBudgets)
	result := emptyResult()
	if len(savingBudgets) == 0 && len(oneTimeBudgets) == 0 {
		return result, nil
	}
	if s.fetcher == nil || s.catalog == nil {
		s.log.Debug().Msg("Knowledge base disabled, skipping suggestions")
		return result, nil
	}

	policy := ParseGapDetectionPolicy(string(req.Policy))
	excluded := isinSet(req.ExcludedISINs)
	planSet := make(map[string]bool)
	planLayers := make(map[string]int)
	planCounts := make(map[int]int)
	seenKeys := make(map[domain.PlanKey]bool)
	for _, plan := range req.Plans {
		isin := domain.NormalizeISIN(plan.ISIN)
		if isin == "" {
			continue
		}
		planSet[isin] = true
		planLayers[isin] = plan.Layer
		key := domain.PlanKey{ISIN: isin, AccountID: plan.AccountID}
		if !seenKeys[key] {
			seenKeys[key] = true
			planCounts[plan.Layer]++
		}
	}
	heldSet := isinSet(req.ExistingISINs)
	for isin := range planSet {
		heldSet[isin] = true
	}

	snapshot, err := knowledgebase.Evaluate(s.fetcher, setKeys(heldSet))
	if err != nil {
		return nil, fmt.Errorf("suggestions: %w", err)
	}
	catalog, err := s.catalog.Catalog()
	if err != nil {
		return nil, fmt.Errorf("suggestions: failed to load catalog: %w", err)
	}

	heldByLayer := make(map[int][]profile)
	plansByLayer := make(map[int][]profile)
	for _, isin := range recordISINs(snapshot.Records) {
		record := snapshot.Records[isin]
		if !domain.IsValidLayer(record.Layer) {
			record.Layer = planLayers[isin]
		}
		if !domain.IsValidLayer(record.Layer) {
			continue
		}
		p := newProfile(record)
		heldByLayer[p.layer] = append(heldByLayer[p.layer], p)
		if planSet[isin] {
			plansByLayer[p.layer] = append(plansByLayer[p.layer], p)
		}
	}
	candidatesByLayer := make(map[int][]profile)
	for _, record := range catalog {
		if !record.IsComplete() || !domain.IsValidLayer(record.Layer) {
			continue
		}
		record.ISIN = domain.NormalizeISIN(record.ISIN)
		candidatesByLayer[record.Layer] = append(candidatesByLayer[record.Layer], newProfile(record))
	}

	minPlanAmount := decimal.Max(domain.ClampNonNegative(req.MinimumPlanSize), domain.ClampNonNegative(req.MinimumRebalance))
	minInstrument := domain.ClampNonNegative(req.MinimumInstrumentAmount)

	for _, layer := range domain.Layers {
		candidates := candidatesByLayer[layer]
		if len(candidates) == 0 {
			continue
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].isin < candidates[j].isin })
		in := layerInput{
			candidates: candidates,
			held:       heldByLayer[layer],
			plans:      plansByLayer[layer],
			heldSet:    heldSet,
			planSet:    planSet,
			excluded:   excluded,
		}
		available := newCoverage(candidates...)

		savingGaps := missingGaps(coverageFor(policy, in.plans, in.held), available)
		if len(savingGaps) > 0 {
			if result.Gaps == nil {
				result.Gaps = make(map[int][]Gap)
			}
			result.Gaps[layer] = savingGaps
		}

		if budget, ok := savingBudgets[layer]; ok && (len(savingGaps) > 0 || planCounts[layer] == 0) {
			maxPlans, ok := req.MaxPlansPerLayer[layer]
			if !ok {
				maxPlans = DefaultMaxPlansPerLayer
			}
			slots := max(0, maxPlans-planCounts[layer])
			limit := min(MaxSuggestionsPerLayer, maxByBudget(budget, minPlanAmount))
			picks := s.selectSavingPlans(in, savingGaps, limit, slots)
			result.SavingPlanSuggestions = append(result.SavingPlanSuggestions, allocateAmounts(picks, layer, budget, minPlanAmount)...)

			s.log.Debug().
				Int("layer", layer).
				Int("gaps", len(savingGaps)).
				Int("slots", slots).
				Int("picked", len(picks)).
				Str("layer_total", req.CurrentLayerTotals[layer].StringFixed(domain.AmountScale)).
				Msg("Selected saving plan suggestions")
		}

		if budget, ok := oneTimeBudgets[layer]; ok {
			oneTimeGaps := missingGaps(newCoverage(in.held...), available)
			limit := min(MaxSuggestionsPerLayer, maxByBudget(budget, minInstrument))
			picks := s.selectOneTime(in, oneTimeGaps, limit)
			result.OneTimeSuggestions = append(result.OneTimeSuggestions, allocateAmounts(picks, layer, budget, minInstrument)...)

			s.log.Debug().
				Int("layer", layer).
				Int("gaps", len(oneTimeGaps)).
				Int("picked", len(picks)).
				Msg("Selected one-time suggestions")
		}
	}

	return result, nil
}

// selectSavingPlans fills gaps with new plans while slots last and falls
// back to increasing held instruments.
func (s *Service) selectSavingPlans(in layerInput, gaps []Gap, limit, slots int) []selection {
	if limit <= 0 {
		return nil
	}
	pool := filterProfiles(in.candidates, func(p profile) bool {
		return !in.planSet[p.isin] && !in.excluded[p.isin]
	})
	if len(gaps) == 0 {
		return baseline(pool, in, min(limit, slots), in.planSet)
	}
	return fillGaps(pool, in, gaps, limit, slots, in.planSet)
}

// selectOneTime picks instruments for a one-time amount. When no gap can be
// filled it falls back to the best candidates.
func (s *Service) selectOneTime(in layerInput, gaps []Gap, limit int) []selection {
	if limit <= 0 {
		return nil
	}
	pool := filterProfiles(in.candidates, func(p profile) bool { return !in.excluded[p.isin] })
	var picks []selection
	if len(gaps) > 0 {
		picks = fillGaps(pool, in, gaps, limit, limit, in.heldSet)
	}
	if len(picks) == 0 {
		picks = baseline(pool, in, limit, in.heldSet)
	}
	return picks
}

// actionFor is ActionIncrease for instruments in existing, ActionNew otherwise.
func actionFor(isin string, existing map[string]bool) Action {
	if existing[isin] {
		return ActionIncrease
	}
	return ActionNew
}

// fillGaps picks one instrument per gap in gap order. Picks from pool count
// against newSlots; after that, or when pool has no match, the best held
// instrument matching the gap is increased. existing marks pool instruments
// that are topped up rather than opened.
func fillGaps(pool []profile, in layerInput, gaps []Gap, limit, newSlots int, existing map[string]bool) []selection {
	picked := make(map[string]bool)
	var picks []selection
	opened := 0
	for _, gap := range gaps {
		if len(picks) >= limit {
			break
		}
		if opened < newSlots {
			if best, ok := bestMatch(pool, gap, gaps, picked, in); ok {
				picked[best.isin] = true
				picks = append(picks, selection{
					profile:   best,
					action:    actionFor(best.isin, existing),
					rationale: gapRationale(best, gap, gaps, in.held),
				})
				opened++
				continue
			}
		}
		held := filterProfiles(in.held, func(p profile) bool { return !in.excluded[p.isin] })
		if best, ok := bestMatch(held, gap, gaps, picked, in); ok {
			picked[best.isin] = true
			picks = append(picks, selection{
				profile:   best,
				action:    ActionIncrease,
				rationale: increaseRationale(best, gap, in.held),
			})
		}
	}
	return picks
}

func bestMatch(pool []profile, gap Gap, gaps []Gap, picked map[string]bool, in layerInput) (profile, bool) {
	var best profile
	bestScore, found := 0.0, false
	for _, p := range pool {
		if picked[p.isin] || !p.matches(gap) {
			continue
		}
		sc := score(p, in.held, gaps, in.heldSet)
		if !found || sc > bestScore {
			best, bestScore, found = p, sc, true
		}
	}
	return best, found
}

// baseline takes the best-scoring candidates, ties broken by ISIN.
func baseline(pool []profile, in layerInput, limit int, existing map[string]bool) []selection {
	if limit <= 0 || len(pool) == 0 {
		return nil
	}
	scores := make(map[string]float64, len(pool))
	for _, p := range pool {
		scores[p.isin] = score(p, in.held, nil, in.heldSet)
	}
	ordered := append([]profile(nil), pool...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if scores[ordered[i].isin] != scores[ordered[j].isin] {
			return scores[ordered[i].isin] > scores[ordered[j].isin]
		}
		return ordered[i].isin < ordered[j].isin
	})
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}
	picks := make([]selection, 0, len(ordered))
	for _, p := range ordered {
		picks = append(picks, selection{
			profile:   p,
			action:    actionFor(p.isin, existing),
			rationale: baselineRationale(p, in.held),
		})
	}
	return picks
}

// allocateAmounts gives every pick the minimum plus an equal share of the
// rest of the budget; leftover cents go to picks in ISIN order. Nothing is
// allocated when the budget cannot cover the minimum for every pick.
func allocateAmounts(picks []selection, layer int, budget, minimum decimal.Decimal) []Suggestion {
	if len(picks) == 0 {
		return nil
	}
	total := budget.Round(domain.AmountScale)
	minTotal := minimum.Mul(decimal.NewFromInt(int64(len(picks))))
	if total.LessThan(minTotal) {
		return nil
	}
	weights := make(map[string]decimal.Decimal, len(picks))
	for _, pick := range picks {
		weights[pick.profile.isin] = decimal.NewFromInt(1)
	}
	extra := allocation.Apportion(total.Sub(minTotal), weights, domain.AmountScale, allocation.StringLess)

	out := make([]Suggestion, 0, len(picks))
	for _, pick := range picks {
		amount := minimum.Add(extra[pick.profile.isin])
		if !amount.IsPositive() {
			continue
		}
		out = append(out, Suggestion{
			ISIN:      pick.profile.isin,
			Name:      pick.profile.name,
			Layer:     layer,
			Amount:    amount,
			Action:    pick.action,
			Rationale: pick.rationale,
		})
	}
	return out
}

// maxByBudget is how many picks of at least minimum the budget affords. A
// zero minimum does not limit the count.
func maxByBudget(budget, minimum decimal.Decimal) int {
	if !budget.IsPositive() {
		return 0
	}
	if !minimum.IsPositive() {
		return MaxSuggestionsPerLayer
	}
	return int(budget.Div(minimum).Floor().IntPart())
}

func positiveBudgets(raw map[int]decimal.Decimal) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal, len(raw))
	for layer, budget := range raw {
		if domain.IsValidLayer(layer) && budget.IsPositive() {
			out[layer] = budget
		}
	}
	return out
}

func filterProfiles(profiles []profile, keep func(profile) bool) []profile {
	out := make([]profile, 0, len(profiles))
	for _, p := range profiles {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func isinSet(isins []string) map[string]bool {
	out := make(map[string]bool, len(isins))
	for _, isin := range knowledgebase.UniqueISINs(isins) {
		out[isin] = true
	}
	return out
}

func setKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func recordISINs(records map[string]knowledgebase.Record) []string {
	isins := make([]string, 0, len(records))
	for isin := range records {
		isins = append(isins, isin)
	}
	sort.Strings(isins)
	return isins
}
