// Package usage tracks per-provider daily request quotas
package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/interfaces"
	"github.com/bobmcallan/yieldwatch/internal/models"
)

const dateLayout = "2006-01-02"

// Tracker implements interfaces.UsageTracker over ProviderStore credentials.
// The daily counter resets on the first check or use after the calendar day
// rolls over in the provider's timezone. The reset is applied inside the same
// atomic update that reads the counter.
type Tracker struct {
	store  interfaces.ProviderStore
	clock  common.Clock
	logger *common.Logger

	// serialises check-and-increment across workers in this process
	mu sync.Mutex
}

// NewTracker creates a usage tracker. A nil clock uses the system clock.
func NewTracker(store interfaces.ProviderStore, clock common.Clock, logger *common.Logger) *Tracker {
	if clock == nil {
		clock = common.SystemClock
	}
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Tracker{store: store, clock: clock, logger: logger}
}

// today returns the provider-local calendar day for cred.
func (t *Tracker) today(cred *models.ProviderCredential) string {
	loc := time.UTC
	if cred.Timezone != "" {
		if l, err := time.LoadLocation(cred.Timezone); err == nil {
			loc = l
		} else {
			t.logger.Warn().Str("provider", cred.Provider).Str("timezone", cred.Timezone).Msg("Unknown provider timezone, using UTC")
		}
	}
	return t.clock.Now().In(loc).Format(dateLayout)
}

// rollover resets the counter when the stored day is not today.
func (t *Tracker) rollover(cred *models.ProviderCredential) {
	today := t.today(cred)
	if cred.UsageResetDate != today {
		if cred.UsageResetDate != "" {
			t.logger.Debug().
				Str("provider", cred.Provider).
				Str("from", cred.UsageResetDate).
				Str("to", today).
				Int("count", cred.UsageCountToday).
				Msg("Resetting daily usage")
		}
		cred.UsageCountToday = 0
		cred.UsageResetDate = today
	}
}

// hasQuota reports whether cred has requests left today. A nil quota is unlimited.
func hasQuota(cred *models.ProviderCredential) bool {
	return cred.DailyQuota == nil || cred.UsageCountToday < *cred.DailyQuota
}

// CanMakeRequest reports whether provider has remaining daily quota.
// An unknown provider cannot make requests.
func (t *Tracker) CanMakeRequest(ctx context.Context, provider string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cred, err := t.store.UpdateCredential(ctx, provider, func(c *models.ProviderCredential) error {
		t.rollover(c)
		return nil
	})
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check usage for %s: %w", provider, err)
	}
	return hasQuota(cred), nil
}

// RecordUsage counts one request against provider's quota and stamps last_used.
func (t *Tracker) RecordUsage(ctx context.Context, provider string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cred, err := t.store.UpdateCredential(ctx, provider, func(c *models.ProviderCredential) error {
		t.rollover(c)
		c.UsageCountToday++
		c.LastUsed = t.clock.Now().UTC()
		return nil
	})
	if err != nil {
		return fmt.Errorf("record usage for %s: %w", provider, err)
	}

	if cred.DailyQuota != nil && cred.UsageCountToday >= *cred.DailyQuota {
		t.logger.Warn().
			Str("provider", provider).
			Int("used", cred.UsageCountToday).
			Int("quota", *cred.DailyQuota).
			Msg("Provider daily quota exhausted")
	}
	return nil
}

// TryAcquire reserves n requests against provider's quota when at least n
// remain today. The check and the increment happen in one credential update,
// so concurrent workers cannot both take the last request.
func (t *Tracker) TryAcquire(ctx context.Context, provider string, n int) (bool, error) {
	if n <= 0 {
		n = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	acquired := false
	cred, err := t.store.UpdateCredential(ctx, provider, func(c *models.ProviderCredential) error {
		t.rollover(c)
		if c.DailyQuota != nil && c.UsageCountToday+n > *c.DailyQuota {
			return nil
		}
		c.UsageCountToday += n
		c.LastUsed = t.clock.Now().UTC()
		acquired = true
		return nil
	})
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire usage for %s: %w", provider, err)
	}
	if !acquired {
		t.logger.Debug().Str("provider", provider).Int("requests", n).Int("used", cred.UsageCountToday).Msg("Quota reservation refused")
	} else if cred.DailyQuota != nil && cred.UsageCountToday >= *cred.DailyQuota {
		t.logger.Warn().
			Str("provider", provider).
			Int("used", cred.UsageCountToday).
			Int("quota", *cred.DailyQuota).
			Msg("Provider daily quota exhausted")
	}
	return acquired, nil
}

// Release gives back n requests reserved by TryAcquire. A reservation taken
// before a day rollover is not returned to the new day.
func (t *Tracker) Release(ctx context.Context, provider string, n int) error {
	if n <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := t.store.UpdateCredential(ctx, provider, func(c *models.ProviderCredential) error {
		if c.UsageResetDate != t.today(c) {
			t.rollover(c)
			return nil
		}
		c.UsageCountToday -= n
		if c.UsageCountToday < 0 {
			c.UsageCountToday = 0
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("release usage for %s: %w", provider, err)
	}
	return nil
}

// Status returns the key-free view of every credential, with counters rolled
// over to today without persisting.
func (t *Tracker) Status(ctx context.Context) ([]models.ProviderStatus, error) {
	creds, err := t.store.ListCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	out := make([]models.ProviderStatus, 0, len(creds))
	for _, c := range creds {
		t.rollover(c)
		out = append(out, models.ProviderStatus{
			Provider:        c.Provider,
			Active:          c.Active,
			HasKey:          c.APIKey != "",
			MaskedKey:       common.MaskSecret(c.APIKey),
			DailyQuota:      c.DailyQuota,
			UsageCountToday: c.UsageCountToday,
			UsageResetDate:  c.UsageResetDate,
			LastUsed:        c.LastUsed,
		})
	}
	return out, nil
}
