package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima/anima-backend/internal/clock"
	"github.com/anima/anima-backend/internal/kv"
)

var noon = time.Date(2024, 1, 15, 12, 0, 0, 0, time.Local)

func newTestLedger(t *testing.T, opts ...Option) (*Ledger, *clock.Manual, *kv.Memory) {
	t.Helper()
	clk := clock.NewManual(noon)
	store := kv.NewMemory()
	return NewLedger(store, clk, opts...), clk, store
}

func used(t *testing.T, l *Ledger) time.Duration {
	t.Helper()
	d, err := l.UsedToday(context.Background())
	require.NoError(t, err)
	return d
}

func locked(t *testing.T, l *Ledger) bool {
	t.Helper()
	ok, err := l.IsLocked(context.Background())
	require.NoError(t, err)
	return ok
}

func TestLedger_NoRecord(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	assert.Zero(t, used(t, l))
	assert.False(t, locked(t, l))
	remaining, err := l.RemainingToday(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultCap, remaining)
}

func TestLedger_StartStop(t *testing.T) {
	l, clk, store := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Start(ctx))
	assert.True(t, l.Active())
	clk.Advance(10 * time.Second)
	require.NoError(t, l.Stop(ctx))

	assert.False(t, l.Active())
	assert.Equal(t, 10*time.Second, used(t, l))
	assert.Equal(t, 0, clk.Tickers())

	raw, ok, err := store.Get(ctx, "anima-usage-2024-01-15")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "10000", raw)
}

func TestLedger_StopFlushesPartialTick(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Start(ctx))
	clk.Advance(2500 * time.Millisecond)
	assert.Equal(t, 2*time.Second, used(t, l), "ticks flush whole periods")

	require.NoError(t, l.Stop(ctx))
	assert.Equal(t, 2500*time.Millisecond, used(t, l))
}

func TestLedger_StartIsIdempotent(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Start(ctx))
	clk.Advance(3 * time.Second)
	require.NoError(t, l.Start(ctx))
	assert.Equal(t, 1, clk.Tickers())
	clk.Advance(2 * time.Second)
	require.NoError(t, l.Stop(ctx))

	assert.Equal(t, 5*time.Second, used(t, l))
}

func TestLedger_StopWithoutSession(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Stop(ctx))
	clk.Advance(time.Minute)
	require.NoError(t, l.Stop(ctx))
	assert.Zero(t, used(t, l))
}

func TestLedger_OnlyActiveIntervalsCount(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()

	intervals := []struct {
		active time.Duration
		idle   time.Duration
	}{
		{active: 3 * time.Second, idle: 100 * time.Second},
		{active: 1700 * time.Millisecond, idle: 5 * time.Minute},
		{active: 42 * time.Second, idle: time.Second},
		{active: 250 * time.Millisecond, idle: 0},
	}

	var want time.Duration
	for _, iv := range intervals {
		require.NoError(t, l.Start(ctx))
		clk.Advance(iv.active)
		require.NoError(t, l.Stop(ctx))
		clk.Advance(iv.idle)
		want += iv.active
	}

	assert.Equal(t, want, used(t, l))
}

func TestLedger_LocksExactlyAtCap(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Start(ctx))
	clk.Advance(DefaultCap - time.Second)
	assert.False(t, locked(t, l))
	assert.True(t, l.Active())
	assert.Equal(t, 899*time.Second, used(t, l))

	clk.Advance(time.Second)
	assert.True(t, locked(t, l))
	assert.Equal(t, 900000*time.Millisecond, used(t, l))

	// the tick that met the cap ended the session
	assert.False(t, l.Active())
	assert.Equal(t, 0, clk.Tickers())

	clk.Advance(time.Hour)
	assert.Equal(t, DefaultCap, used(t, l))

	require.NoError(t, l.Start(ctx))
	assert.False(t, l.Active(), "start is a no-op once locked")

	remaining, err := l.RemainingToday(ctx)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestLedger_NeverLocksEarly(t *testing.T) {
	l, clk, _ := newTestLedger(t, WithCap(10*time.Second))
	ctx := context.Background()

	require.NoError(t, l.Start(ctx))
	clk.Advance(9999 * time.Millisecond)
	require.NoError(t, l.Stop(ctx))
	assert.Equal(t, 9999*time.Millisecond, used(t, l))
	assert.False(t, locked(t, l))

	require.NoError(t, l.Start(ctx))
	clk.Advance(time.Millisecond)
	require.NoError(t, l.Stop(ctx))
	assert.True(t, locked(t, l))
}

func TestLedger_CustomTickInterval(t *testing.T) {
	l, clk, _ := newTestLedger(t, WithTickInterval(5*time.Second))
	ctx := context.Background()

	require.NoError(t, l.Start(ctx))
	clk.Advance(7 * time.Second)
	assert.Equal(t, 5*time.Second, used(t, l))
	require.NoError(t, l.Stop(ctx))
	assert.Equal(t, 7*time.Second, used(t, l))
}

func TestLedger_AbruptExitLosesAtMostOneTick(t *testing.T) {
	l, clk, store := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Start(ctx))
	clk.Advance(4900 * time.Millisecond)
	// process dies without Stop; a new process reads the same store

	reloaded := NewLedger(store, clk)
	got := used(t, reloaded)
	assert.Equal(t, 4*time.Second, got)
	assert.Less(t, 4900*time.Millisecond-got, DefaultTickInterval)
	assert.False(t, reloaded.Active())
}

func TestLedger_SplitsAtMidnight(t *testing.T) {
	start := time.Date(2024, 1, 15, 23, 59, 59, 500_000_000, time.Local)
	clk := clock.NewManual(start)
	store := kv.NewMemory()
	l := NewLedger(store, clk)
	ctx := context.Background()

	require.NoError(t, l.Start(ctx))
	clk.Advance(3 * time.Second)
	require.NoError(t, l.Stop(ctx))

	yesterday, _, err := store.Get(ctx, "anima-usage-2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, "500", yesterday)

	today := used(t, l)
	assert.Equal(t, 2500*time.Millisecond, today)
	sinceMidnight := clk.Now().Sub(time.Date(2024, 1, 16, 0, 0, 0, 0, time.Local))
	assert.LessOrEqual(t, today, sinceMidnight)
}

func TestLedger_NewDayUnlocks(t *testing.T) {
	l, clk, _ := newTestLedger(t, WithCap(5*time.Second))
	ctx := context.Background()

	require.NoError(t, l.Start(ctx))
	clk.Advance(10 * time.Second)
	assert.True(t, locked(t, l))

	clk.Set(time.Date(2024, 1, 16, 9, 0, 0, 0, time.Local))
	assert.False(t, locked(t, l))
	assert.Zero(t, used(t, l))

	require.NoError(t, l.Start(ctx))
	assert.True(t, l.Active())
	require.NoError(t, l.Stop(ctx))
}

func TestLedger_CorruptRecordReadsAsZero(t *testing.T) {
	l, _, store := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, DayKey(noon), "not-a-number"))
	assert.Zero(t, used(t, l))
}

type failingStore struct {
	kv.Store
	err error
}

func (f failingStore) Set(context.Context, string, string) error {
	return f.err
}

func TestLedger_StoreErrors(t *testing.T) {
	clk := clock.NewManual(noon)
	boom := errors.New("disk full")
	l := NewLedger(failingStore{Store: kv.NewMemory(), err: boom}, clk)
	ctx := context.Background()

	require.NoError(t, l.Start(ctx))
	clk.Advance(3 * time.Second) // tick failures are logged, session survives
	assert.True(t, l.Active())

	err := l.Stop(ctx)
	assert.ErrorIs(t, err, boom)
	assert.False(t, l.Active())
}

func TestLedger_RealClock(t *testing.T) {
	l := NewLedger(kv.NewMemory(), clock.Real(),
		WithCap(60*time.Millisecond),
		WithTickInterval(10*time.Millisecond),
	)
	ctx := context.Background()

	require.NoError(t, l.Start(ctx))
	assert.Eventually(t, func() bool { return !l.Active() }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, locked(t, l))
}

func TestFormatMMSS(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00"},
		{999 * time.Millisecond, "00:00"},
		{61 * time.Second, "01:01"},
		{DefaultCap, "15:00"},
		{14*time.Minute + 5*time.Second + 300*time.Millisecond, "14:05"},
		{-time.Second, "00:00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatMMSS(tt.in))
	}
}
