package models

import (
	"fmt"
	"time"
)

// BatchResult summarises one sync run.
type BatchResult struct {
	RunID      string    `json:"run_id"`
	DataType   DataType  `json:"data_type"`
	Total      int       `json:"total"`
	Updated    int       `json:"updated"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Errors     []string  `json:"errors"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Outcome of processing one symbol in a batch.
type Outcome int

const (
	OutcomeUpdated Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

// Record folds one symbol outcome into the result.
func (r *BatchResult) Record(symbol string, outcome Outcome, err error) {
	r.Total++
	switch outcome {
	case OutcomeUpdated:
		r.Updated++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
		msg := "unknown error"
		if err != nil {
			msg = err.Error()
		}
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %s", symbol, msg))
	}
}

// Merge adds the counts and errors of other into r.
func (r *BatchResult) Merge(other BatchResult) {
	r.Total += other.Total
	r.Updated += other.Updated
	r.Skipped += other.Skipped
	r.Failed += other.Failed
	r.Errors = append(r.Errors, other.Errors...)
}

// HasFailures reports whether any symbol failed.
func (r *BatchResult) HasFailures() bool {
	return r.Failed > 0
}

// DataTypeFreshness counts symbols by freshness for one data type.
type DataTypeFreshness struct {
	Fresh   int `json:"fresh"`
	Stale   int `json:"stale"`
	Missing int `json:"missing"`
}

// FreshnessStats reports how current the quote data for the working set is.
type FreshnessStats struct {
	TotalStocks         int                            `json:"total_stocks"`
	FreshData           int                            `json:"fresh_data"`
	StaleData           int                            `json:"stale_data"`
	MissingData         int                            `json:"missing_data"`
	OldestDataTimestamp *time.Time                     `json:"oldest_data_timestamp"`
	NewestDataTimestamp *time.Time                     `json:"newest_data_timestamp"`
	ByDataType          map[DataType]DataTypeFreshness `json:"by_data_type"`
	Session             string                         `json:"session"`
}
