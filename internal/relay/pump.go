package relay

import (
	"context"
	"errors"
	"io"
)

const readBufferSize = 4096

// Reason describes why a pump ended.
type Reason string

const (
	ReasonDone       Reason = "done"
	ReasonEOF        Reason = "eof"
	ReasonReadError  Reason = "read_error"
	ReasonClientGone Reason = "client_gone"
	ReasonCanceled   Reason = "canceled"
)

// FlushWriter is the downstream half of the relay. *bufio.Writer satisfies it.
type FlushWriter interface {
	io.Writer
	Flush() error
}

// Result summarizes a finished pump.
type Result struct {
	Deltas int
	Bytes  int
	Reason Reason
}

// Pump reads upstream text from r, decodes it and forwards every delta to w
// in arrival order, flushing after each one. It returns when the sentinel is
// seen, r is exhausted, a read or write fails, or ctx is canceled. The
// returned error is the read or write failure, if any; text already flushed
// stays delivered.
func Pump(ctx context.Context, r io.Reader, w FlushWriter) (Result, error) {
	var (
		dec Decoder
		res Result
		buf = make([]byte, readBufferSize)
	)

	for {
		if err := ctx.Err(); err != nil {
			res.Reason = ReasonCanceled
			return res, nil
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				if ev.Done {
					res.Reason = ReasonDone
					return res, nil
				}
				written, err := io.WriteString(w, ev.Delta)
				res.Bytes += written
				if err == nil {
					err = w.Flush()
				}
				if err != nil {
					res.Reason = ReasonClientGone
					return res, err
				}
				res.Deltas++
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				res.Reason = ReasonEOF
				return res, nil
			}
			if ctx.Err() != nil {
				res.Reason = ReasonCanceled
				return res, nil
			}
			res.Reason = ReasonReadError
			return res, readErr
		}
	}
}
