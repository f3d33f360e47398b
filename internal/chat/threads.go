package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/anima/anima-backend/internal/clock"
	"github.com/anima/anima-backend/internal/kv"
	"github.com/anima/anima-backend/internal/logging"
)

const (
	threadListKey      = "anima-chat-list"
	threadPrefix       = "anima-chat-"
	profileKey         = "anima-onb"
	defaultThreadTitle = "General"
)

func messagesKey(threadID string) string {
	return threadPrefix + threadID
}

// Threads persists the thread list and each thread's messages. Unreadable
// records are treated as empty, matching how a fresh device behaves.
type Threads struct {
	store kv.Store
	clock clock.Clock
	log   *logrus.Entry
}

func NewThreads(store kv.Store, clk clock.Clock, log *logrus.Entry) *Threads {
	if log == nil {
		log = logging.Component(nil, "threads")
	}
	return &Threads{store: store, clock: clk, log: log}
}

// List returns threads newest first.
func (t *Threads) List(ctx context.Context) ([]Thread, error) {
	return loadJSON[[]Thread](ctx, t, threadListKey)
}

// Get looks a thread up by id.
func (t *Threads) Get(ctx context.Context, id string) (Thread, bool, error) {
	threads, err := t.List(ctx)
	if err != nil {
		return Thread{}, false, err
	}
	for _, th := range threads {
		if th.ID == id {
			return th, true, nil
		}
	}
	return Thread{}, false, nil
}

// Create prepends a new thread. An empty title gets a time-based default.
func (t *Threads) Create(ctx context.Context, title string) (Thread, error) {
	threads, err := t.List(ctx)
	if err != nil {
		return Thread{}, err
	}

	now := t.clock.Now()
	if title == "" {
		title = "Chat " + now.Format("15:04:05")
	}
	th := Thread{ID: newID(), Title: title, Created: now}

	if err := t.save(ctx, threadListKey, append([]Thread{th}, threads...)); err != nil {
		return Thread{}, err
	}
	return th, nil
}

// EnsureDefault returns the newest thread, creating "General" on first use.
func (t *Threads) EnsureDefault(ctx context.Context) (Thread, error) {
	threads, err := t.List(ctx)
	if err != nil {
		return Thread{}, err
	}
	if len(threads) > 0 {
		return threads[0], nil
	}
	return t.Create(ctx, defaultThreadTitle)
}

// Delete removes a thread and its messages and returns the remaining list.
func (t *Threads) Delete(ctx context.Context, id string) ([]Thread, error) {
	threads, err := t.List(ctx)
	if err != nil {
		return nil, err
	}

	rest := make([]Thread, 0, len(threads))
	for _, th := range threads {
		if th.ID != id {
			rest = append(rest, th)
		}
	}
	if err := t.save(ctx, threadListKey, rest); err != nil {
		return nil, err
	}
	if err := t.store.Remove(ctx, messagesKey(id)); err != nil {
		return nil, fmt.Errorf("failed to remove messages: %w", err)
	}
	return rest, nil
}

// Messages returns a thread's messages in send order.
func (t *Threads) Messages(ctx context.Context, threadID string) ([]Message, error) {
	return loadJSON[[]Message](ctx, t, messagesKey(threadID))
}

func (t *Threads) SaveMessages(ctx context.Context, threadID string, msgs []Message) error {
	return t.save(ctx, messagesKey(threadID), msgs)
}

// LoadProfile returns the stored personalization blob, or {}.
func (t *Threads) LoadProfile(ctx context.Context) (json.RawMessage, error) {
	raw, ok, err := t.store.Get(ctx, profileKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	if !ok || !json.Valid([]byte(raw)) {
		return json.RawMessage("{}"), nil
	}
	return json.RawMessage(raw), nil
}

func (t *Threads) SaveProfile(ctx context.Context, profile any) error {
	return t.save(ctx, profileKey, profile)
}

func loadJSON[T any](ctx context.Context, t *Threads, key string) (T, error) {
	var zero, v T
	raw, ok, err := t.store.Get(ctx, key)
	if err != nil {
		return zero, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !ok {
		return zero, nil
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.log.WithError(err).WithField("key", key).Warn("ignoring corrupt record")
		return zero, nil
	}
	return v, nil
}

func (t *Threads) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := t.store.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
