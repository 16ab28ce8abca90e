package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnualDividends(t *testing.T) {
	d := func(y int, m time.Month) time.Time { return time.Date(y, m, 15, 0, 0, 0, 0, time.UTC) }
	events := []DividendEvent{
		{Symbol: "KO", ExDate: d(2023, time.March), Amount: 0.46, Type: DividendRegular},
		{Symbol: "KO", ExDate: d(2024, time.March), Amount: 0.485, Type: DividendRegular},
		{Symbol: "KO", ExDate: d(2023, time.June), Amount: 0.46, Type: DividendRegular},
		{Symbol: "KO", ExDate: d(2024, time.June), Amount: 0.5, Type: DividendSpecial},
		{Symbol: "KO", ExDate: d(2024, time.July), Amount: 3, Type: DividendStock},
	}

	periods := AnnualDividends(events)
	require.Len(t, periods, 2)
	assert.Equal(t, 2024, periods[0].Year)
	assert.InDelta(t, 0.985, periods[0].PerShare, 1e-9)
	assert.Equal(t, 2023, periods[1].Year)
	assert.InDelta(t, 0.92, periods[1].PerShare, 1e-9)
}

func TestAnnualDividends_Empty(t *testing.T) {
	assert.Empty(t, AnnualDividends(nil))
}

func TestFinancialStatements_IsEmpty(t *testing.T) {
	var nilFin *FinancialStatements
	assert.True(t, nilFin.IsEmpty())
	assert.True(t, (&FinancialStatements{Symbol: "X"}).IsEmpty())
	assert.False(t, (&FinancialStatements{Dividends: []DividendPeriod{{Year: 2024, PerShare: 1}}}).IsEmpty())
}
