package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ErrMissingAPIKey is returned when the upstream credential is not provisioned.
var ErrMissingAPIKey = errors.New("Missing OPENAI_API_KEY")

// UpstreamError carries a non-success upstream response. Its message is the
// upstream body, verbatim.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.Status)
	}
	return e.Body
}

// Upstream opens streaming completions against an OpenAI-compatible endpoint.
type Upstream struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewUpstream creates an upstream client. baseURL is the API root, e.g.
// https://api.openai.com/v1. A nil client uses a fresh http.Client without
// timeout, since streams are bounded by the request context instead.
func NewUpstream(baseURL, apiKey string, client *http.Client) *Upstream {
	if client == nil {
		client = &http.Client{}
	}
	return &Upstream{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

// Configured reports whether an API key is available.
func (u *Upstream) Configured() bool {
	return u.apiKey != ""
}

// Open issues the completion request and returns the event-stream body. The
// caller owns the body and must close it.
func (u *Upstream) Open(ctx context.Context, req openai.ChatCompletionRequest) (io.ReadCloser, error) {
	if !u.Configured() {
		return nil, ErrMissingAPIKey
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+u.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := u.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, &UpstreamError{Status: resp.StatusCode, Body: readErr.Error()}
		}
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(bodyBytes)}
	}

	return resp.Body, nil
}
