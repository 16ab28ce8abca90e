package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchResult_Record(t *testing.T) {
	var r BatchResult
	r.Record("A", OutcomeUpdated, nil)
	r.Record("B", OutcomeFailed, errors.New("timeout"))
	r.Record("C", OutcomeSkipped, nil)
	r.Record("D", OutcomeFailed, nil)

	assert.Equal(t, 4, r.Total)
	assert.Equal(t, 1, r.Updated)
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, 2, r.Failed)
	assert.Equal(t, []string{"B: timeout", "D: unknown error"}, r.Errors)
	assert.True(t, r.HasFailures())
}

func TestBatchResult_Merge(t *testing.T) {
	a := BatchResult{Total: 2, Updated: 2}
	b := BatchResult{Total: 1, Failed: 1, Errors: []string{"X: boom"}}
	a.Merge(b)
	assert.Equal(t, 3, a.Total)
	assert.Equal(t, 1, a.Failed)
	assert.Equal(t, []string{"X: boom"}, a.Errors)
}
