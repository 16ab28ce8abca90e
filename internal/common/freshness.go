package common

import (
	"time"
)

// Session classifies a moment against the market's trading calendar.
type Session string

const (
	SessionPreMarket   Session = "pre-market"   // trading day, before the open
	SessionMarketHours Session = "market-hours" // trading day, open <= t < close
	SessionAfterHours  Session = "after-hours"  // trading day, at or after the close
	SessionClosed      Session = "closed"       // weekend or holiday
)

// Market states reported on quotes
const (
	MarketStatePre     = "PRE"
	MarketStateRegular = "REGULAR"
	MarketStatePost    = "POST"
	MarketStateClosed  = "CLOSED"
)

// FreshnessPolicy decides whether a cached record must be refetched.
// Intraday data (quotes) is stale once its age reaches the session's refresh
// interval; daily data (price bars, dividends) is stale once the market-local
// calendar day has rolled over since it was fetched.
type FreshnessPolicy struct {
	loc            *time.Location
	openMinutes    int
	closeMinutes   int
	holidays       map[string]bool
	marketInterval time.Duration
	offInterval    time.Duration
	clock          Clock
}

// NewFreshnessPolicy builds a policy from market and sync configuration.
// A nil clock uses the system clock.
func NewFreshnessPolicy(market MarketConfig, sync SyncConfig, clock Clock) *FreshnessPolicy {
	if clock == nil {
		clock = SystemClock
	}
	holidays := make(map[string]bool, len(market.Holidays))
	for _, h := range market.Holidays {
		holidays[h] = true
	}
	return &FreshnessPolicy{
		loc:            market.GetLocation(),
		openMinutes:    market.GetOpenMinutes(),
		closeMinutes:   market.GetCloseMinutes(),
		holidays:       holidays,
		marketInterval: sync.GetMarketHoursInterval(),
		offInterval:    sync.GetOffHoursInterval(),
		clock:          clock,
	}
}

// Now returns the current time in the market timezone.
func (p *FreshnessPolicy) Now() time.Time {
	return p.clock.Now().In(p.loc)
}

// Location returns the market timezone.
func (p *FreshnessPolicy) Location() *time.Location {
	return p.loc
}

// IsTradingDay reports whether t falls on a weekday that is not a configured holiday.
func (p *FreshnessPolicy) IsTradingDay(t time.Time) bool {
	local := t.In(p.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !p.holidays[local.Format("2006-01-02")]
}

// Session classifies t against the trading calendar.
func (p *FreshnessPolicy) Session(t time.Time) Session {
	if !p.IsTradingDay(t) {
		return SessionClosed
	}
	local := t.In(p.loc)
	minutes := local.Hour()*60 + local.Minute()
	switch {
	case minutes < p.openMinutes:
		return SessionPreMarket
	case minutes < p.closeMinutes:
		return SessionMarketHours
	default:
		return SessionAfterHours
	}
}

// MarketState maps the session at t to a quote market state.
func (p *FreshnessPolicy) MarketState(t time.Time) string {
	switch p.Session(t) {
	case SessionPreMarket:
		return MarketStatePre
	case SessionMarketHours:
		return MarketStateRegular
	case SessionAfterHours:
		return MarketStatePost
	default:
		return MarketStateClosed
	}
}

// RefreshInterval returns the intraday refresh interval for the session at t.
func (p *FreshnessPolicy) RefreshInterval(t time.Time) time.Duration {
	if p.Session(t) == SessionMarketHours {
		return p.marketInterval
	}
	return p.offInterval
}

// IsStale reports whether intraday data last fetched at last needs refreshing.
// A zero last means the record does not exist.
func (p *FreshnessPolicy) IsStale(last time.Time, force bool) bool {
	if force || last.IsZero() {
		return true
	}
	now := p.Now()
	return now.Sub(last) >= p.RefreshInterval(now)
}

// IsStaleDaily reports whether daily data last fetched at last needs refreshing,
// i.e. it was fetched on an earlier market-local calendar day.
func (p *FreshnessPolicy) IsStaleDaily(last time.Time, force bool) bool {
	if force || last.IsZero() {
		return true
	}
	return p.dayOf(last).Before(p.dayOf(p.Now()))
}

func (p *FreshnessPolicy) dayOf(t time.Time) time.Time {
	local := t.In(p.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.loc)
}
