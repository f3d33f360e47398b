package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/anima/anima-backend/internal/relay"
)

// RelayError is a non-200 answer from the relay. Text is the response body.
type RelayError struct {
	Status int
	Text   string
}

func (e *RelayError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("relay returned status %d", e.Status)
	}
	return e.Text
}

// RelayClient posts chat turns to the relay and reads the streamed reply.
type RelayClient struct {
	url    string
	client *http.Client
}

// NewRelayClient creates a client for the relay endpoint url
// (e.g. http://localhost:3000/api/chat).
func NewRelayClient(url string, client *http.Client) *RelayClient {
	if client == nil {
		client = &http.Client{}
	}
	return &RelayClient{url: url, client: client}
}

// Stream sends req and calls onDelta with each piece of text as it arrives.
// Pieces never split a UTF-8 sequence. An error after some text was
// delivered means the reply is truncated.
func (c *RelayClient) Stream(ctx context.Context, req relay.ChatRequest, onDelta func(string)) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(resp.Body)
		return &RelayError{Status: resp.StatusCode, Text: relayErrorText(text)}
	}

	buf := make([]byte, 4096)
	var carry []byte
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			complete, rest := splitUTF8(data)
			if len(complete) > 0 {
				onDelta(string(complete))
			}
			carry = append([]byte(nil), rest...)
		}
		if readErr != nil {
			if len(carry) > 0 {
				onDelta(string(carry))
			}
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}

// relayErrorText unwraps {"error": "..."} bodies and returns anything else as is.
func relayErrorText(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return string(body)
}

// splitUTF8 separates a trailing incomplete UTF-8 sequence from p.
func splitUTF8(p []byte) (complete, rest []byte) {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if !utf8.FullRune(p[i:]) {
				return p[:i], p[i:]
			}
			break
		}
	}
	return p, nil
}
