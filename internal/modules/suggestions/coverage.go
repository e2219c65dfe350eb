package suggestions

import (
	"regexp"
	"sort"
	"strings"

	"github.com/aristath/layerwise/internal/modules/knowledgebase"
	"github.com/aristath/layerwise/internal/modules/scoring/scorers"
)

var themeKeywords = []string{
	"technology",
	"health",
	"dividend",
	"real estate",
	"small cap",
	"mid cap",
	"emerging",
	"sustainable",
	"esg",
	"value",
	"growth",
	"quality",
	"momentum",
	"equal weight",
	"infra",
	"infrastructure",
}

type localeKeyword struct {
	pattern *regexp.Regexp
	label   string
}

func newLocaleKeyword(keyword, label string) localeKeyword {
	return localeKeyword{
		pattern: regexp.MustCompile(`\b` + regexp.QuoteMeta(keyword) + `\b`),
		label:   label,
	}
}

// Locale keywords match on word boundaries so "us" does not fire inside
// "industrials".
var localeKeywords = []localeKeyword{
	newLocaleKeyword("united states", "united states"),
	newLocaleKeyword("usa", "united states"),
	newLocaleKeyword("us", "united states"),
	newLocaleKeyword("europe", "europe"),
	newLocaleKeyword("european", "europe"),
	newLocaleKeyword("emerging", "emerging markets"),
	newLocaleKeyword("emerging markets", "emerging markets"),
	newLocaleKeyword("japan", "japan"),
	newLocaleKeyword("asia", "asia"),
	newLocaleKeyword("global", "global"),
	newLocaleKeyword("world", "global"),
	newLocaleKeyword("uk", "united kingdom"),
	newLocaleKeyword("united kingdom", "united kingdom"),
}

// profile is the suggestion-relevant view of a knowledge-base record.
type profile struct {
	isin         string
	name         string
	subClass     string
	distribution string
	benchmark    string
	themes       []string
	locales      []string
	regions      []string
	holdings     []string
	ter          float64
	valuation    float64
	layer        int
	hasTER       bool
	fund         bool
	singleStock  bool
}

func newProfile(record knowledgebase.Record) profile {
	p := profile{
		isin:         record.ISIN,
		name:         record.Name,
		layer:        record.Layer,
		subClass:     knowledgebase.NormalizeLabel(record.SubClass),
		distribution: record.Distribution(),
		benchmark:    record.Benchmark(),
		regions:      record.RegionNames(),
		holdings:     record.HoldingNames(),
		fund:         record.IsFund(),
		singleStock:  record.IsSingleStock(),
	}
	p.ter, p.hasTER = record.OngoingCharges()
	if score, ok := scorers.ValuationScore(record); ok {
		p.valuation = score
	}
	p.themes = extractThemes(record.SubClass, record.LayerNotes)
	p.locales = extractLocales(record.Name, record.SubClass, record.LayerNotes, p.regions)
	if p.name == "" {
		p.name = p.isin
	}
	return p
}

// extractThemes returns the sub-class itself plus every theme keyword found
// in the layer notes.
func extractThemes(subClass, notes string) []string {
	themes := make(map[string]struct{})
	if sub := knowledgebase.NormalizeLabel(subClass); sub != "" {
		themes[sub] = struct{}{}
	}
	normalized := knowledgebase.NormalizeLabel(notes)
	for _, keyword := range themeKeywords {
		if normalized != "" && strings.Contains(normalized, keyword) {
			themes[keyword] = struct{}{}
		}
	}
	return setToSorted(themes)
}

// extractLocales maps region names and locale keywords in the free text onto
// canonical locales.
func extractLocales(name, subClass, notes string, regions []string) []string {
	locales := make(map[string]struct{})
	for _, region := range regions {
		locales[region] = struct{}{}
	}
	combined := knowledgebase.NormalizeLabel(name + " " + subClass + " " + notes)
	if combined != "" {
		for _, keyword := range localeKeywords {
			if keyword.pattern.MatchString(combined) {
				locales[keyword.label] = struct{}{}
			}
		}
	}
	return setToSorted(locales)
}

func (p profile) matches(gap Gap) bool {
	switch gap.Type {
	case GapSubClass:
		return p.subClass != "" && p.subClass == gap.Value
	case GapTheme:
		return contains(p.themes, gap.Value)
	case GapLocalisation:
		return contains(p.locales, gap.Value)
	case GapDistribution:
		return p.distribution != "" && p.distribution == gap.Value
	}
	return false
}

// coverage is the set of category values a group of instruments spans.
type coverage struct {
	subClasses    map[string]struct{}
	themes        map[string]struct{}
	locales       map[string]struct{}
	distributions map[string]struct{}
}

func newCoverage(profiles ...profile) coverage {
	c := coverage{
		subClasses:    make(map[string]struct{}),
		themes:        make(map[string]struct{}),
		locales:       make(map[string]struct{}),
		distributions: make(map[string]struct{}),
	}
	for _, p := range profiles {
		c.add(p)
	}
	return c
}

func (c coverage) add(p profile) {
	if p.subClass != "" {
		c.subClasses[p.subClass] = struct{}{}
	}
	for _, theme := range p.themes {
		c.themes[theme] = struct{}{}
	}
	for _, locale := range p.locales {
		c.locales[locale] = struct{}{}
	}
	if p.distribution != "" {
		c.distributions[p.distribution] = struct{}{}
	}
}

// coverageFor picks what counts as existing coverage under policy: plan
// instruments only, or every holding.
func coverageFor(policy GapDetectionPolicy, planProfiles, heldProfiles []profile) coverage {
	if policy == PolicyPortfolioGaps {
		return newCoverage(heldProfiles...)
	}
	return newCoverage(planProfiles...)
}

// missingGaps lists what available covers and existing does not, ordered by
// gap type and then value.
func missingGaps(existing, available coverage) []Gap {
	var gaps []Gap
	add := func(t GapType, candidates, have map[string]struct{}) {
		for _, value := range setToSorted(candidates) {
			if _, ok := have[value]; !ok {
				gaps = append(gaps, Gap{Type: t, Value: value})
			}
		}
	}
	add(GapSubClass, available.subClasses, existing.subClasses)
	add(GapTheme, available.themes, existing.themes)
	add(GapLocalisation, available.locales, existing.locales)
	add(GapDistribution, available.distributions, existing.distributions)
	return gaps
}

// coveredGaps returns the gaps p fills, in gap order.
func coveredGaps(p profile, gaps []Gap) []Gap {
	var covered []Gap
	for _, gap := range gaps {
		if p.matches(gap) {
			covered = append(covered, gap)
		}
	}
	return covered
}

// gapCoverageCount counts the gap types p fills, at most one per type.
func gapCoverageCount(p profile, gaps []Gap) int {
	seen := make(map[GapType]bool)
	for _, gap := range coveredGaps(p, gaps) {
		seen[gap.Type] = true
	}
	return len(seen)
}

func setToSorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for value := range set {
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
