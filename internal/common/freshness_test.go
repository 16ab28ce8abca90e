package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestPolicy(t *testing.T, now time.Time) *FreshnessPolicy {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Market.Holidays = []string{"2025-07-04"}
	return NewFreshnessPolicy(cfg.Market, cfg.Sync, FixedClock(now))
}

func nyTime(t *testing.T, value string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	ts, err := time.ParseInLocation("2006-01-02 15:04", value, loc)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return ts
}

func TestFreshnessPolicy_Session(t *testing.T) {
	p := newTestPolicy(t, time.Now())

	tests := []struct {
		at    string
		want  Session
		state string
	}{
		{"2025-01-06 08:00", SessionPreMarket, MarketStatePre},
		{"2025-01-06 09:29", SessionPreMarket, MarketStatePre},
		{"2025-01-06 09:30", SessionMarketHours, MarketStateRegular},
		{"2025-01-06 15:59", SessionMarketHours, MarketStateRegular},
		{"2025-01-06 16:00", SessionAfterHours, MarketStatePost},
		{"2025-01-11 12:00", SessionClosed, MarketStateClosed}, // Saturday
		{"2025-07-04 12:00", SessionClosed, MarketStateClosed}, // holiday
	}
	for _, tt := range tests {
		at := nyTime(t, tt.at)
		if got := p.Session(at); got != tt.want {
			t.Errorf("Session(%s) = %s, want %s", tt.at, got, tt.want)
		}
		assert.Equal(t, tt.state, p.MarketState(at), tt.at)
	}
}

func TestFreshnessPolicy_SessionUsesMarketTimezone(t *testing.T) {
	p := newTestPolicy(t, time.Now())
	// 15:00 UTC is 10:00 in New York during winter
	at := time.Date(2025, 1, 6, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, SessionMarketHours, p.Session(at))
}

func TestFreshnessPolicy_IsStale_MarketHours(t *testing.T) {
	now := nyTime(t, "2025-01-06 11:00")
	p := newTestPolicy(t, now)

	assert.False(t, p.IsStale(now.Add(-14*time.Minute), false))
	assert.True(t, p.IsStale(now.Add(-15*time.Minute), false), "age equal to interval is stale")
	assert.True(t, p.IsStale(time.Time{}, false), "missing record is stale")
	assert.True(t, p.IsStale(now, true), "force bypasses freshness")
}

func TestFreshnessPolicy_IsStale_OffHours(t *testing.T) {
	now := nyTime(t, "2025-01-11 11:00")
	p := newTestPolicy(t, now)

	assert.False(t, p.IsStale(now.Add(-20*time.Minute), false))
	assert.True(t, p.IsStale(now.Add(-30*time.Minute), false))

	after := newTestPolicy(t, nyTime(t, "2025-01-06 18:00"))
	assert.Equal(t, 30*time.Minute, after.RefreshInterval(after.Now()))
}

func TestFreshnessPolicy_IsStaleDaily(t *testing.T) {
	now := nyTime(t, "2025-01-06 10:00")
	p := newTestPolicy(t, now)

	assert.False(t, p.IsStaleDaily(nyTime(t, "2025-01-06 00:05"), false))
	assert.True(t, p.IsStaleDaily(nyTime(t, "2025-01-05 23:55"), false))
	assert.True(t, p.IsStaleDaily(time.Time{}, false))
	assert.True(t, p.IsStaleDaily(now, true))

	// 03:00 UTC on the 6th is still the 5th in New York
	assert.True(t, p.IsStaleDaily(time.Date(2025, 1, 6, 3, 0, 0, 0, time.UTC), false))
}
