package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Transcript is a thread with its messages, as exported.
type Transcript struct {
	Thread   Thread    `json:"thread" yaml:"thread"`
	Messages []Message `json:"messages" yaml:"messages"`
}

// Export writes every thread with its messages to w as json or yaml.
func (t *Threads) Export(ctx context.Context, w io.Writer, format string) error {
	threads, err := t.List(ctx)
	if err != nil {
		return err
	}

	transcripts := make([]Transcript, 0, len(threads))
	for _, th := range threads {
		msgs, err := t.Messages(ctx, th.ID)
		if err != nil {
			return err
		}
		if msgs == nil {
			msgs = []Message{}
		}
		transcripts = append(transcripts, Transcript{Thread: th, Messages: msgs})
	}

	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(transcripts)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(transcripts); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}
