package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anima/anima-backend/internal/clock"
	"github.com/anima/anima-backend/internal/dialogue"
	"github.com/anima/anima-backend/internal/logging"
	"github.com/anima/anima-backend/internal/relay"
	"github.com/anima/anima-backend/internal/usage"
)

// SoftFailureText replaces an assistant reply that could not be received.
const SoftFailureText = "Network unavailable. Try again."

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrQuotaExhausted = errors.New("daily chat time used up")
	// ErrSoftFailure marks a reply that is missing or truncated; the user
	// should be invited to try again.
	ErrSoftFailure = errors.New("reply incomplete")
)

// Status is the pre-flight state shown before message entry.
type Status struct {
	Used           time.Duration
	Remaining      time.Duration
	QuotaLocked    bool
	Dialogues      int
	DialogueLocked bool
	SessionActive  bool
}

// Service is the client side of a conversation: it gates sends on the quota
// ledger and the dialogue gate, talks to the relay and persists history.
type Service struct {
	threads *Threads
	ledger  *usage.Ledger
	gate    *dialogue.Gate
	relay   *RelayClient
	clock   clock.Clock
	lang    string
	log     *logrus.Entry
}

// NewService wires the client. lang is sent with every turn.
func NewService(threads *Threads, ledger *usage.Ledger, gate *dialogue.Gate, relayClient *RelayClient, clk clock.Clock, lang string, log *logrus.Entry) *Service {
	if log == nil {
		log = logging.Component(nil, "chat")
	}
	return &Service{
		threads: threads,
		ledger:  ledger,
		gate:    gate,
		relay:   relayClient,
		clock:   clk,
		lang:    lang,
		log:     log,
	}
}

func (s *Service) Threads() *Threads {
	return s.threads
}

// Open marks the chat view as visible and starts metering active time.
func (s *Service) Open(ctx context.Context) error {
	return s.ledger.Start(ctx)
}

// Close stops metering and flushes the pending interval.
func (s *Service) Close(ctx context.Context) error {
	return s.ledger.Stop(ctx)
}

// DeleteThread removes a thread with its messages and drops it from the
// gate's counted set. The persisted dialogue count is unchanged.
func (s *Service) DeleteThread(ctx context.Context, threadID string) ([]Thread, error) {
	rest, err := s.threads.Delete(ctx, threadID)
	if err != nil {
		return nil, err
	}
	s.gate.Forget(threadID)
	return rest, nil
}

// Status reports quota and dialogue state.
func (s *Service) Status(ctx context.Context) (Status, error) {
	var st Status
	var err error

	if st.Used, err = s.ledger.UsedToday(ctx); err != nil {
		return st, err
	}
	if st.Remaining, err = s.ledger.RemainingToday(ctx); err != nil {
		return st, err
	}
	st.QuotaLocked = st.Used >= s.ledger.Cap()
	if st.Dialogues, err = s.gate.Count(ctx); err != nil {
		return st, err
	}
	if st.DialogueLocked, err = s.gate.Locked(ctx); err != nil {
		return st, err
	}
	st.SessionActive = s.ledger.Active()
	return st, nil
}

// Send posts text to threadID and streams the reply, calling onDelta with
// each received piece. It returns the final assistant message.
//
// ErrQuotaExhausted and dialogue.ErrLocked are returned before anything is
// sent or stored. A *RelayError means the relay refused the turn; the
// assistant message then carries the error text. ErrSoftFailure means the
// reply is empty or was cut off; any partial text is kept.
func (s *Service) Send(ctx context.Context, threadID, text string, onDelta func(string)) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}

	locked, err := s.ledger.IsLocked(ctx)
	if err != nil {
		return Message{}, err
	}
	if locked {
		return Message{}, ErrQuotaExhausted
	}
	if err := s.gate.Check(ctx); err != nil {
		return Message{}, err
	}
	if _, err := s.gate.Record(ctx, threadID); err != nil {
		return Message{}, err
	}

	history, err := s.threads.Messages(ctx, threadID)
	if err != nil {
		return Message{}, err
	}
	profile, err := s.threads.LoadProfile(ctx)
	if err != nil {
		return Message{}, err
	}

	user := Message{ID: newID(), Role: RoleUser, Text: text, Timestamp: s.clock.Now()}
	history = append(history, user)
	bot := Message{ID: newID(), Role: RoleAssistant, Timestamp: s.clock.Now()}
	if err := s.threads.SaveMessages(ctx, threadID, append(history, bot)); err != nil {
		return Message{}, err
	}

	req := relay.ChatRequest{Lang: s.lang, Profile: profile, Messages: make([]relay.Turn, 0, len(history))}
	for _, m := range history {
		req.Messages = append(req.Messages, relay.Turn{Role: string(m.Role), Text: m.Text})
	}

	var reply strings.Builder
	streamErr := s.relay.Stream(ctx, req, func(delta string) {
		reply.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	})
	bot.Text = reply.String()

	var relayErr *RelayError
	switch {
	case errors.As(streamErr, &relayErr):
		bot.Text = "Error: " + relayErr.Error()
		s.log.WithField("status", relayErr.Status).Warn("relay refused turn")
	case streamErr != nil:
		if bot.Text == "" {
			bot.Text = SoftFailureText
		}
		s.log.WithError(streamErr).Warn("reply interrupted")
		streamErr = fmt.Errorf("%w: %w", ErrSoftFailure, streamErr)
	case bot.Text == "":
		bot.Text = SoftFailureText
		streamErr = ErrSoftFailure
	}

	// the reply is saved even if the caller gave up on ctx
	if err := s.threads.SaveMessages(context.WithoutCancel(ctx), threadID, append(history, bot)); err != nil {
		return bot, err
	}
	return bot, streamErr
}
