package knowledgebase

import (
	"fmt"
	"sort"

	"github.com/aristath/layerwise/internal/domain"
)

// Fetcher returns the records stored for the given ISINs. ISINs without a
// record are simply absent from the result.
type Fetcher interface {
	Fetch(isins []string) (map[string]Record, error)
}

// Catalog lists every record that may be suggested as a new instrument.
type Catalog interface {
	Catalog() ([]Record, error)
}

// Gating reports whether the knowledge base covers a set of instruments.
type Gating struct {
	MissingISINs         []string `json:"missing_isins"`
	KnowledgeBaseEnabled bool     `json:"knowledge_base_enabled"`
	Complete             bool     `json:"complete"`
}

// Snapshot is the read-only view of the knowledge base taken for one run.
// Records only holds complete records.
type Snapshot struct {
	Records map[string]Record
	Gating  Gating
}

// Evaluate fetches every ISIN in one batch and decides gating. A record
// counts only when its status is complete. A nil fetcher means the knowledge
// base is disabled, which is reported as incomplete.
func Evaluate(fetcher Fetcher, isins []string) (Snapshot, error) {
	unique := UniqueISINs(isins)
	if fetcher == nil {
		return Snapshot{
			Records: map[string]Record{},
			Gating: Gating{
				KnowledgeBaseEnabled: false,
				Complete:             false,
				MissingISINs:         unique,
			},
		}, nil
	}

	fetched := map[string]Record{}
	if len(unique) > 0 {
		var err error
		fetched, err = fetcher.Fetch(unique)
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to fetch knowledge base records: %w", err)
		}
	}

	records := make(map[string]Record, len(unique))
	missing := make([]string, 0)
	for _, isin := range unique {
		record, ok := fetched[isin]
		if !ok || !record.IsComplete() {
			missing = append(missing, isin)
			continue
		}
		records[isin] = record
	}

	return Snapshot{
		Records: records,
		Gating: Gating{
			KnowledgeBaseEnabled: true,
			Complete:             len(missing) == 0,
			MissingISINs:         missing,
		},
	}, nil
}

// UniqueISINs normalises, de-duplicates and sorts ISINs, dropping blanks.
func UniqueISINs(isins []string) []string {
	seen := make(map[string]struct{}, len(isins))
	out := make([]string, 0, len(isins))
	for _, raw := range isins {
		isin := domain.NormalizeISIN(raw)
		if isin == "" {
			continue
		}
		if _, ok := seen[isin]; ok {
			continue
		}
		seen[isin] = struct{}{}
		out = append(out, isin)
	}
	sort.Strings(out)
	return out
}
