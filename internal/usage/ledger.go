package usage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anima/anima-backend/internal/clock"
	"github.com/anima/anima-backend/internal/kv"
	"github.com/anima/anima-backend/internal/logging"
)

const (
	// DefaultCap is the free active chat time per calendar day.
	DefaultCap = 15 * time.Minute
	// DefaultTickInterval bounds how much active time an abrupt exit can lose.
	DefaultTickInterval = time.Second

	keyPrefix   = "anima-usage-"
	tickTimeout = 5 * time.Second
)

// DayKey returns the record key for the calendar day containing t, in t's
// location.
func DayKey(t time.Time) string {
	return keyPrefix + t.Format("2006-01-02")
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithCap(d time.Duration) Option {
	return func(l *Ledger) { l.cap = d }
}

func WithTickInterval(d time.Duration) Option {
	return func(l *Ledger) { l.interval = d }
}

func WithLogger(log *logrus.Entry) Option {
	return func(l *Ledger) { l.log = log }
}

// Ledger meters active chat time per local calendar day and locks once the
// daily cap is used up. While a session is active, elapsed time is flushed
// to the store on every tick, so killing the process loses at most one tick.
type Ledger struct {
	store    kv.Store
	clock    clock.Clock
	cap      time.Duration
	interval time.Duration
	log      *logrus.Entry

	mu     sync.Mutex
	active bool
	origin time.Time
	ticker clock.Ticker
}

// NewLedger creates a ledger. There should be one per client process.
func NewLedger(store kv.Store, clk clock.Clock, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		clock:    clk,
		cap:      DefaultCap,
		interval: DefaultTickInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logging.Component(nil, "usage")
	}
	return l
}

// Cap returns the daily allowance.
func (l *Ledger) Cap() time.Duration {
	return l.cap
}

// UsedToday returns the active time recorded for the current day.
func (l *Ledger) UsedToday(ctx context.Context) (time.Duration, error) {
	return l.usedOn(ctx, l.clock.Now())
}

// IsLocked reports whether today's allowance is exhausted.
func (l *Ledger) IsLocked(ctx context.Context) (bool, error) {
	used, err := l.UsedToday(ctx)
	if err != nil {
		return false, err
	}
	return used >= l.cap, nil
}

// RemainingToday returns the unused allowance, never negative.
func (l *Ledger) RemainingToday(ctx context.Context) (time.Duration, error) {
	used, err := l.UsedToday(ctx)
	if err != nil {
		return 0, err
	}
	if used >= l.cap {
		return 0, nil
	}
	return l.cap - used, nil
}

// Active reports whether a session is being metered.
func (l *Ledger) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Start begins metering. It does nothing when a session is already active
// or today is locked.
func (l *Ledger) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active {
		return nil
	}
	locked, err := l.IsLocked(ctx)
	if err != nil {
		return err
	}
	if locked {
		return nil
	}

	l.active = true
	l.origin = l.clock.Now()
	l.ticker = l.clock.Every(l.interval, l.tick)
	l.log.Debug("usage session started")
	return nil
}

// Stop flushes the time since the last tick and ends the session. It does
// nothing when no session is active.
func (l *Ledger) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.active {
		return nil
	}
	err := l.flushLocked(ctx)
	l.endLocked()
	l.log.Debug("usage session stopped")
	return err
}

func (l *Ledger) tick() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.active {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	if err := l.flushLocked(ctx); err != nil {
		// best effort: the next tick retries with the same origin
		l.log.WithError(err).Warn("failed to flush usage")
		return
	}

	locked, err := l.IsLocked(ctx)
	if err != nil {
		l.log.WithError(err).Warn("failed to read usage")
		return
	}
	if locked {
		l.endLocked()
		l.log.WithField("cap", l.cap.String()).Info("daily usage cap reached")
	}
}

func (l *Ledger) endLocked() {
	l.active = false
	if l.ticker != nil {
		l.ticker.Stop()
		l.ticker = nil
	}
}

// flushLocked records the whole milliseconds elapsed since origin and moves
// origin forward by exactly that amount.
func (l *Ledger) flushLocked(ctx context.Context) error {
	now := l.clock.Now()
	elapsed := now.Sub(l.origin).Truncate(time.Millisecond)
	if elapsed <= 0 {
		return nil
	}
	end := l.origin.Add(elapsed)
	if err := l.addSpan(ctx, l.origin, end); err != nil {
		return err
	}
	l.origin = end
	return nil
}

// addSpan credits [from, to) to the days it covers, splitting at midnight.
func (l *Ledger) addSpan(ctx context.Context, from, to time.Time) error {
	for from.Before(to) {
		y, m, d := from.Date()
		nextMidnight := time.Date(y, m, d+1, 0, 0, 0, 0, from.Location())
		segEnd := to
		if nextMidnight.Before(to) {
			segEnd = nextMidnight
		}
		if err := l.add(ctx, from, segEnd.Sub(from)); err != nil {
			return err
		}
		from = segEnd
	}
	return nil
}

func (l *Ledger) add(ctx context.Context, day time.Time, d time.Duration) error {
	cur, err := l.usedOn(ctx, day)
	if err != nil {
		return err
	}
	next := (cur + d).Milliseconds()
	if err := l.store.Set(ctx, DayKey(day), strconv.FormatInt(next, 10)); err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

func (l *Ledger) usedOn(ctx context.Context, day time.Time) (time.Duration, error) {
	raw, ok, err := l.store.Get(ctx, DayKey(day))
	if err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	if !ok {
		return 0, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms < 0 {
		l.log.WithField("value", raw).Warn("ignoring corrupt usage record")
		return 0, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// FormatMMSS renders d as minutes and seconds, e.g. 14:05.
func FormatMMSS(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
