// Package report renders assessment results as Markdown documents for the
// command line.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/allocation"
	"github.com/aristath/layerwise/internal/modules/rebalancing"
	"github.com/aristath/layerwise/internal/modules/suggestions"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is used for amounts when no currency is given.
const DefaultCurrency = "EUR"

// Assessment writes a Markdown report of result. Amounts are shown in
// currency.
func Assessment(w io.Writer, result *rebalancing.AssessmentResult, currency string) {
	if currency == "" {
		currency = DefaultCurrency
	}
	r := &renderer{w: w, currency: currency}

	r.line("# Allocation Assessment")
	r.line("")
	r.line(fmt.Sprintf("Profile **%s** (%s), generated %s.", result.Profile.DisplayName, result.Profile.Key,
		result.GeneratedAt.Format("2006-01-02 15:04 MST")))
	r.line("")
	r.line(fmt.Sprintf("Monthly saving plans: **%s**", r.amount(result.MonthlyTotal)))
	r.line("")

	r.layers(result)
	r.planChanges(result.SavingPlanSuggestions)
	r.oneTime(result.OneTime)
	r.proposals(result)
	r.suggestions(result.Suggestions)
	r.notes(result.Diagnostics)
	r.line(fmt.Sprintf("_Run %s_", result.RunID))
}

// String returns the Markdown report as a string.
func String(result *rebalancing.AssessmentResult, currency string) string {
	var b strings.Builder
	Assessment(&b, result, currency)
	return b.String()
}

type renderer struct {
	w        io.Writer
	currency string
}

func (r *renderer) line(s string) {
	fmt.Fprintln(r.w, s)
}

func (r *renderer) amount(v decimal.Decimal) string {
	return allocation.FormatAmount(v, r.currency)
}

func (r *renderer) signed(v decimal.Decimal) string {
	return allocation.FormatSigned(v, r.currency)
}

func (r *renderer) table(header []string, align []string, rows [][]string) {
	r.line("| " + strings.Join(header, " | ") + " |")
	r.line("|" + strings.Join(align, "|") + "|")
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = escapeCell(c)
		}
		r.line("| " + strings.Join(cells, " | ") + " |")
	}
	r.line("")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

func layerLabel(layer int) string {
	if name, ok := domain.LayerNames[layer]; ok {
		return fmt.Sprintf("%d %s", layer, name)
	}
	return fmt.Sprintf("%d", layer)
}

func (r *renderer) layers(result *rebalancing.AssessmentResult) {
	r.line("## Layers")
	r.line("")
	rows := make([][]string, 0, len(domain.Layers))
	for _, layer := range domain.Layers {
		current, hasCurrent := result.CurrentLayers[layer]
		target, hasTarget := result.TargetLayers[layer]
		if !hasCurrent && !hasTarget {
			continue
		}
		weight := "-"
		if w, ok := result.Profile.LayerTargets[layer]; ok {
			weight = w.Shift(2).StringFixed(1) + "%"
		}
		rows = append(rows, []string{
			layerLabel(layer),
			weight,
			r.amount(current),
			r.amount(target),
			r.signed(target.Sub(current)),
		})
	}
	if len(rows) == 0 {
		r.line("No saving plans.")
		r.line("")
		return
	}
	r.table([]string{"Layer", "Target Weight", "Current", "Target", "Change"},
		[]string{":---", "---:", "---:", "---:", "---:"}, rows)
}

func (r *renderer) planChanges(changes []rebalancing.PlanSuggestion) {
	r.line("## Saving Plan Changes")
	r.line("")
	if len(changes) == 0 {
		r.line("No changes proposed.")
		r.line("")
		return
	}
	rows := make([][]string, 0, len(changes))
	for _, c := range changes {
		rows = append(rows, []string{
			string(c.Type),
			c.Name,
			c.ISIN,
			fmt.Sprintf("%d", c.Layer),
			r.amount(c.OldAmount),
			r.amount(c.NewAmount),
			r.signed(c.Delta),
		})
	}
	r.table([]string{"Change", "Instrument", "ISIN", "Layer", "Old", "New", "Delta"},
		[]string{":---", ":---", ":---", "---:", "---:", "---:", "---:"}, rows)
}

func (r *renderer) oneTime(alloc *rebalancing.OneTimeAllocation) {
	if alloc == nil || alloc.Amount.IsZero() {
		return
	}
	r.line(fmt.Sprintf("## One-Time Investment of %s", r.amount(alloc.Amount)))
	r.line("")
	rows := make([][]string, 0, len(alloc.Layers))
	for _, layer := range domain.Layers {
		if v := alloc.Layers[layer]; v.IsPositive() {
			rows = append(rows, []string{layerLabel(layer), r.amount(v)})
		}
	}
	if len(rows) > 0 {
		r.table([]string{"Layer", "Amount"}, []string{":---", "---:"}, rows)
	}
	if len(alloc.Instruments) > 0 {
		rows = rows[:0]
		for _, isin := range allocation.SortedKeys(alloc.Instruments, allocation.StringLess) {
			rows = append(rows, []string{isin, r.amount(alloc.Instruments[isin])})
		}
		r.table([]string{"ISIN", "Amount"}, []string{":---", "---:"}, rows)
	}
	for _, note := range alloc.Notes {
		r.line("- " + note)
	}
	if len(alloc.Notes) > 0 {
		r.line("")
	}
}

func (r *renderer) proposals(result *rebalancing.AssessmentResult) {
	res := result.Instruments
	if res == nil {
		return
	}
	r.line("## Instrument Proposals")
	r.line("")
	if !res.Gating.Complete {
		if !res.Gating.KnowledgeBaseEnabled {
			r.line("Withheld: the knowledge base is disabled.")
		} else {
			r.line("Withheld: missing knowledge base records for " + strings.Join(res.Gating.MissingISINs, ", ") + ".")
		}
		r.line("")
		return
	}
	rows := make([][]string, 0, len(res.Proposals))
	for _, p := range res.Proposals {
		codes := make([]string, len(p.ReasonCodes))
		for i, c := range p.ReasonCodes {
			codes[i] = string(c)
		}
		rows = append(rows, []string{
			p.Name,
			p.ISIN,
			fmt.Sprintf("%d", p.Layer),
			r.amount(p.CurrentAmount),
			r.amount(p.ProposedAmount),
			r.signed(p.Delta),
			strings.Join(codes, ", "),
		})
	}
	r.table([]string{"Instrument", "ISIN", "Layer", "Current", "Proposed", "Delta", "Reasons"},
		[]string{":---", ":---", "---:", "---:", "---:", "---:", ":---"}, rows)
	for _, warning := range res.Warnings {
		r.line(fmt.Sprintf("- Layer %d: %s", warning.Layer, warning.Message))
	}
	if len(res.Warnings) > 0 {
		r.line("")
	}
}

func (r *renderer) suggestions(res *suggestions.SuggestionResult) {
	if res == nil || (len(res.SavingPlanSuggestions) == 0 && len(res.OneTimeSuggestions) == 0) {
		return
	}
	r.line("## Suggestions")
	r.line("")
	sections := []struct {
		title string
		items []suggestions.Suggestion
	}{
		{"Saving plans", res.SavingPlanSuggestions},
		{"One-time", res.OneTimeSuggestions},
	}
	for _, section := range sections {
		if len(section.items) == 0 {
			continue
		}
		r.line("### " + section.title)
		r.line("")
		rows := make([][]string, 0, len(section.items))
		for _, s := range section.items {
			rows = append(rows, []string{
				fmt.Sprintf("%d", s.Layer),
				s.Name,
				s.ISIN,
				string(s.Action),
				r.amount(s.Amount),
				s.Rationale,
			})
		}
		r.table([]string{"Layer", "Instrument", "ISIN", "Action", "Amount", "Rationale"},
			[]string{"---:", ":---", ":---", ":---", "---:", ":---"}, rows)
	}
}

func (r *renderer) notes(d rebalancing.AssessmentDiagnostics) {
	if len(d.Notes) == 0 && d.SuppressedDeltasCount == 0 && !d.MinimumRebalanceRelaxed {
		return
	}
	r.line("## Notes")
	r.line("")
	for _, note := range d.Notes {
		r.line("- " + note)
	}
	if d.SuppressedDeltasCount > 0 {
		r.line(fmt.Sprintf("- %d layer changes totalling %s were below the minimum rebalancing amount.",
			d.SuppressedDeltasCount, r.amount(d.SuppressedAmountTotal)))
	}
	if d.MinimumRebalanceRelaxed {
		r.line("- The minimum rebalancing amount was relaxed to place the change.")
	}
	r.line("")
}
