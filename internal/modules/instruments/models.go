// Package instruments splits layer budgets across the instruments held in
// each layer, weighted by knowledge-base signals.
package instruments

import (
	"time"

	"github.com/aristath/layerwise/internal/modules/knowledgebase"
	"github.com/shopspring/decimal"
)

// ReasonCode explains why a proposal has the amount it has.
type ReasonCode string

const (
	ReasonNoChange        ReasonCode = "NO_CHANGE_WITHIN_TOLERANCE"
	ReasonMinDropped      ReasonCode = "MIN_AMOUNT_DROPPED"
	ReasonMinRebalance    ReasonCode = "MIN_REBALANCE_AMOUNT"
	ReasonWeighted        ReasonCode = "KB_WEIGHTED"
	ReasonScoreWeighted   ReasonCode = "SCORE_WEIGHTED"
	ReasonEqualWeight     ReasonCode = "EQUAL_WEIGHT"
	ReasonLayerBudgetZero ReasonCode = "LAYER_BUDGET_ZERO"
)

// WarningNoInstruments flags a layer that has budget but nothing to put it in.
const WarningNoInstruments = "LAYER_NO_INSTRUMENTS"

// Instrument is a held instrument with its current periodic amount.
type Instrument struct {
	LastChanged *time.Time      `json:"last_changed,omitempty"`
	ISIN        string          `json:"isin"`
	Name        string          `json:"name"`
	Amount      decimal.Decimal `json:"amount"`
	Layer       int             `json:"layer"`
}

// Proposal is the proposed amount for one instrument.
type Proposal struct {
	ISIN           string          `json:"isin"`
	Name           string          `json:"name"`
	ReasonCodes    []ReasonCode    `json:"reason_codes"`
	CurrentAmount  decimal.Decimal `json:"current_amount"`
	ProposedAmount decimal.Decimal `json:"proposed_amount"`
	Delta          decimal.Decimal `json:"delta"`
	Layer          int             `json:"layer"`
}

// Warning is a non-fatal observation about a layer.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Layer   int    `json:"layer"`
}

// WeightingSummary records which signals drove a layer's weights.
type WeightingSummary struct {
	Weights         map[string]float64 `json:"weights"`
	Layer           int                `json:"layer"`
	InstrumentCount int                `json:"instrument_count"`
	Weighted        bool               `json:"weighted"`
	ScoreWeighted   bool               `json:"score_weighted"`
	CostUsed        bool               `json:"cost_used"`
	BenchmarkUsed   bool               `json:"benchmark_used"`
	RegionsUsed     bool               `json:"regions_used"`
	SectorsUsed     bool               `json:"sectors_used"`
	HoldingsUsed    bool               `json:"holdings_used"`
	ValuationUsed   bool               `json:"valuation_used"`
}

// ProposalResult is the output of BuildProposals.
type ProposalResult struct {
	Proposals []Proposal           `json:"proposals"`
	Warnings  []Warning            `json:"warnings"`
	Weighting []WeightingSummary   `json:"weighting"`
	Gating    knowledgebase.Gating `json:"gating"`
}
