package bandwidth

import (
	"context"
	"net/http"
	"time"
)

// writeChunkSize caps how many bytes are charged to the limiter at once
// so waits stay short and responsive to cancellation.
const writeChunkSize = 32 << 10

// Writer paces writes to an http.ResponseWriter through a shared Limiter.
// All downloads drawing from the same Limiter share the server's egress
// budget.
type Writer struct {
	http.ResponseWriter
	limiter *Limiter
	ctx     context.Context
}

// NewWriter wraps w so body writes are throttled by limiter. Returns w
// unchanged when limiter is nil.
func NewWriter(ctx context.Context, w http.ResponseWriter, limiter *Limiter) http.ResponseWriter {
	if limiter == nil {
		return w
	}
	return &Writer{ResponseWriter: w, limiter: limiter, ctx: ctx}
}

// Write sends b in chunks, sleeping out the limiter's debt between them.
// Stops early when the request context is canceled.
func (w *Writer) Write(b []byte) (int, error) {
	written := 0
	for len(b) > 0 {
		chunk := b
		if len(chunk) > writeChunkSize {
			chunk = chunk[:writeChunkSize]
		}
		if wait := w.limiter.Allow(int64(len(chunk))); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-w.ctx.Done():
				timer.Stop()
				return written, w.ctx.Err()
			}
		}
		n, err := w.ResponseWriter.Write(chunk)
		written += n
		if err != nil {
			return written, err
		}
		b = b[len(chunk):]
	}
	return written, nil
}

// Unwrap returns the underlying ResponseWriter for middleware that needs it.
func (w *Writer) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
