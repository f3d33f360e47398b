// Package clock provides the time source and periodic ticks used to meter
// active chat time. Real drives production; Manual lets tests walk virtual
// time forward deterministically.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is a time source that can also schedule periodic callbacks.
type Clock interface {
	Now() time.Time
	// Every calls fn once per period d until the returned Ticker is stopped.
	Every(d time.Duration, fn func()) Ticker
}

// Ticker cancels a periodic callback. Stop is idempotent and safe to call
// from inside the callback itself.
type Ticker interface {
	Stop()
}

// Real returns the wall clock.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Every(d time.Duration, fn func()) Ticker {
	t := &realTicker{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}
	go t.run(fn)
	return t
}

type realTicker struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *realTicker) run(fn func()) {
	defer t.ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			// Stop may have raced with this tick.
			select {
			case <-t.done:
				return
			default:
			}
			fn()
		}
	}
}

func (t *realTicker) Stop() {
	t.once.Do(func() { close(t.done) })
}

// Manual is a clock that only moves when told to. Callbacks registered with
// Every run synchronously inside Advance, on the caller's goroutine.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	tickers map[int]*manualTicker
}

// NewManual returns a manual clock set to start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, tickers: make(map[int]*manualTicker)}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set jumps to t without firing any ticker.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

func (m *Manual) Every(d time.Duration, fn func()) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for Every")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	t := &manualTicker{
		clock:  m,
		id:     m.nextID,
		period: d,
		next:   m.now.Add(d),
		fn:     fn,
	}
	m.tickers[t.id] = t
	return t
}

// Advance moves time forward by d. Every tick due in that window fires in
// chronological order, with Now reporting the tick's own instant while its
// callback runs.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		t := m.nextDue(target)
		if t == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = t.next
		t.next = t.next.Add(t.period)
		fn := t.fn
		m.mu.Unlock()

		fn()
	}
}

// Tickers reports how many tickers are live.
func (m *Manual) Tickers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickers)
}

func (m *Manual) nextDue(target time.Time) *manualTicker {
	due := make([]*manualTicker, 0, len(m.tickers))
	for _, t := range m.tickers {
		if !t.next.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].next.Equal(due[j].next) {
			return due[i].id < due[j].id
		}
		return due[i].next.Before(due[j].next)
	})
	return due[0]
}

type manualTicker struct {
	clock  *Manual
	id     int
	period time.Duration
	next   time.Time
	fn     func()
}

func (t *manualTicker) Stop() {
	t.clock.mu.Lock()
	delete(t.clock.tickers, t.id)
	t.clock.mu.Unlock()
}
