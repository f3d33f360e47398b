package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/anima/anima-backend/internal/kv"
	"github.com/anima/anima-backend/internal/logging"
)

// DefaultThreshold is the number of free dialogues.
const DefaultThreshold = 3

const (
	countKey     = "anima-dialogues"
	lockedKey    = "anima-dialogues-locked"
	unlimitedKey = "anima-dialogues-unlimited"
)

// ErrLocked is returned by Check once the free dialogues are used up.
var ErrLocked = errors.New("free dialogues used up")

type Option func(*Gate)

func WithThreshold(n int) Option {
	return func(g *Gate) { g.threshold = n }
}

func WithLogger(log *logrus.Entry) Option {
	return func(g *Gate) { g.log = log }
}

// Gate counts distinct conversation threads and locks further sends once
// more than the free threshold have been started. The count is persisted;
// which threads were already counted is remembered only for the life of the
// process.
type Gate struct {
	store     kv.Store
	threshold int
	log       *logrus.Entry

	mu      sync.Mutex
	counted map[string]bool
}

func NewGate(store kv.Store, opts ...Option) *Gate {
	g := &Gate{
		store:     store,
		threshold: DefaultThreshold,
		counted:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logging.Component(nil, "dialogue")
	}
	return g
}

// Check must pass before a message is sent.
func (g *Gate) Check(ctx context.Context) error {
	locked, err := g.Locked(ctx)
	if err != nil {
		return err
	}
	if locked {
		return ErrLocked
	}
	return nil
}

// Record notes that a message is being sent in threadID. The first call for
// a thread increments the persisted count; the gate locks when the count
// exceeds the threshold. It returns whether the gate is now locked.
func (g *Gate) Record(ctx context.Context, threadID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.counted[threadID] {
		return g.Locked(ctx)
	}

	count, err := g.Count(ctx)
	if err != nil {
		return false, err
	}
	count++
	if err := g.store.Set(ctx, countKey, strconv.Itoa(count)); err != nil {
		return false, fmt.Errorf("failed to save dialogue count: %w", err)
	}
	g.counted[threadID] = true

	unlimited, err := g.flag(ctx, unlimitedKey)
	if err != nil {
		return false, err
	}
	if count > g.threshold && !unlimited {
		if err := g.store.Set(ctx, lockedKey, "1"); err != nil {
			return false, fmt.Errorf("failed to save dialogue lock: %w", err)
		}
		g.log.WithField("count", count).Info("free dialogues used up")
		return true, nil
	}
	return g.Locked(ctx)
}

// Count returns the number of dialogues started so far.
func (g *Gate) Count(ctx context.Context) (int, error) {
	raw, ok, err := g.store.Get(ctx, countKey)
	if err != nil {
		return 0, fmt.Errorf("failed to read dialogue count: %w", err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		g.log.WithField("value", raw).Warn("ignoring corrupt dialogue count")
		return 0, nil
	}
	return n, nil
}

// Locked reports whether sends are currently refused.
func (g *Gate) Locked(ctx context.Context) (bool, error) {
	return g.flag(ctx, lockedKey)
}

// Unlock lifts the lock permanently, e.g. after a subscription. The count is
// kept.
func (g *Gate) Unlock(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.Set(ctx, unlimitedKey, "1"); err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	if err := g.store.Remove(ctx, lockedKey); err != nil {
		return fmt.Errorf("failed to clear dialogue lock: %w", err)
	}
	return nil
}

// Forget drops the in-process memory of a counted thread, e.g. when the
// thread is deleted. The persisted count is unaffected.
func (g *Gate) Forget(threadID string) {
	g.mu.Lock()
	delete(g.counted, threadID)
	g.mu.Unlock()
}

func (g *Gate) flag(ctx context.Context, key string) (bool, error) {
	raw, ok, err := g.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return ok && raw == "1", nil
}
