package models

import "time"

// SafetyFactor is one scored component of a dividend-safety score.
type SafetyFactor struct {
	Value      float64 `json:"value"`
	Score      float64 `json:"score"`
	Weight     float64 `json:"weight"`
	Computable bool    `json:"computable"`
}

// SafetyFactors holds the five components of a dividend-safety score.
type SafetyFactors struct {
	PayoutRatio       SafetyFactor `json:"payout_ratio"`
	FCFCoverage       SafetyFactor `json:"fcf_coverage"`
	DebtToEquity      SafetyFactor `json:"debt_to_equity"`
	DividendGrowth    SafetyFactor `json:"dividend_growth"`
	EarningsStability SafetyFactor `json:"earnings_stability"`
}

// Safety grade used when nothing could be scored.
const GradeNotAvailable = "N/A"

// SafetyResult is the output of scoring a symbol.
type SafetyResult struct {
	Symbol     string        `json:"symbol"`
	Score      float64       `json:"score"`
	Grade      string        `json:"grade"`
	Factors    SafetyFactors `json:"factors"`
	Warnings   []string      `json:"warnings"`
	ComputedAt time.Time     `json:"computed_at"`
	Stale      bool          `json:"stale,omitempty"` // served from an expired cache entry
}

// SafetyCacheEntry is the persisted safety score shared by every portfolio
// holding the symbol.
type SafetyCacheEntry struct {
	Symbol      string        `json:"symbol" badgerhold:"key"`
	Score       float64       `json:"score"`
	Grade       string        `json:"grade"`
	Factors     SafetyFactors `json:"factors"`
	Warnings    []string      `json:"warnings"`
	LastUpdated time.Time     `json:"last_updated"`
}

// NeedsUpdate reports whether the entry must be recomputed at now. An entry
// with a zero score was never successfully scored and is always retried.
func (e *SafetyCacheEntry) NeedsUpdate(now time.Time, maxAge time.Duration) bool {
	if e == nil || e.Score == 0 {
		return true
	}
	return now.Sub(e.LastUpdated) > maxAge
}

// Result converts the entry back to a SafetyResult.
func (e *SafetyCacheEntry) Result() SafetyResult {
	return SafetyResult{
		Symbol:     e.Symbol,
		Score:      e.Score,
		Grade:      e.Grade,
		Factors:    e.Factors,
		Warnings:   append([]string(nil), e.Warnings...),
		ComputedAt: e.LastUpdated,
	}
}

// NewSafetyCacheEntry builds a cache entry for r stamped at now.
func NewSafetyCacheEntry(r SafetyResult, now time.Time) *SafetyCacheEntry {
	return &SafetyCacheEntry{
		Symbol:      r.Symbol,
		Score:       r.Score,
		Grade:       r.Grade,
		Factors:     r.Factors,
		Warnings:    append([]string(nil), r.Warnings...),
		LastUpdated: now,
	}
}

// Risk buckets
const (
	RiskLow      = "low"      // score >= 70
	RiskModerate = "moderate" // 50 <= score < 70
	RiskHigh     = "high"     // 0 < score < 50
	RiskUnscored = "unscored" // score == 0
)

// RiskDistribution counts symbols per risk bucket.
type RiskDistribution struct {
	Low      int `json:"low"`
	Moderate int `json:"moderate"`
	High     int `json:"high"`
	Unscored int `json:"unscored"`
}

// PortfolioSafety aggregates safety results across a set of symbols.
type PortfolioSafety struct {
	Symbols      []string                `json:"symbols"`
	Results      map[string]SafetyResult `json:"results"`
	AverageScore float64                 `json:"average_score"`
	Grade        string                  `json:"grade"`
	ScoredCount  int                     `json:"scored_count"`
	Distribution RiskDistribution        `json:"risk_distribution"`
	Errors       []string                `json:"errors,omitempty"`
}
