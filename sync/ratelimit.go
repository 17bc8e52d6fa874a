package sync

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

const rateChunkSize = 64 * 1024

// newLimiter returns a byte-rate limiter, or nil for unlimited.
func newLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := max(int(bytesPerSecond), rateChunkSize)
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

// limitedReader throttles reads through a shared limiter.
type limitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

// NewLimitedReader wraps r so reads wait on limiter. A nil limiter returns r
// unchanged.
func NewLimitedReader(ctx context.Context, r io.Reader, limiter *rate.Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &limitedReader{ctx: ctx, r: r, limiter: limiter}
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if len(p) > rateChunkSize {
		p = p[:rateChunkSize]
	}
	n, err := l.r.Read(p)
	if n > 0 {
		if werr := l.limiter.WaitN(l.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
