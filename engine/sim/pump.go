package sim

import (
	"context"
	"log/slog"

	"github.com/grokify/omnicas"
)

// FaultInjector decides whether the block starting at pos fails in transit.
// The engine then resets the stream to its last mark.
type FaultInjector interface {
	Fault(dir omnicas.Direction, pos int64) bool
}

// FaultFunc adapts a function to FaultInjector.
type FaultFunc func(dir omnicas.Direction, pos int64) bool

// Fault calls f.
func (f FaultFunc) Fault(dir omnicas.Direction, pos int64) bool { return f(dir, pos) }

// FaultOnce fails the first block that reaches pos in dir, once.
func FaultOnce(dir omnicas.Direction, pos int64) FaultInjector {
	done := false
	return FaultFunc(func(d omnicas.Direction, p int64) bool {
		if done || d != dir || p < pos {
			return false
		}
		done = true
		return true
	})
}

// resetBudget tracks resets and re-sent bytes for one transfer.
type resetBudget struct {
	resets int
	resent int64
}

// spend charges one reset that re-sends n bytes. It fails once the retry
// limit or the resend limit is exceeded.
func (e *Engine) spend(b *resetBudget, dir omnicas.Direction, n int64) error {
	b.resets++
	b.resent += n
	if b.resets > e.config.RetryLimit || b.resent > e.config.MaxResend {
		return e.fail(omnicas.ErrCodeStream, "%s aborted after %d resets (%d bytes re-sent)", dir, b.resets, b.resent)
	}
	e.logger.Debug("stream reset to mark",
		slog.String("direction", dir.String()),
		slog.Int("reset", b.resets),
		slog.Int64("resend", n))
	return nil
}

func (e *Engine) faulted(dir omnicas.Direction, pos int64) bool {
	return e.config.Faults != nil && e.config.Faults.Fault(dir, pos)
}

// upload drains the stream behind h and returns its content.
func (e *Engine) upload(ctx context.Context, h omnicas.Handle) ([]byte, error) {
	st, err := lookup[*stream](e, h)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	handler, err := st.begin(omnicas.Upload)
	if err != nil {
		return nil, e.fail(omnicas.ErrCodeStream, "stream %s: %v", st.kind, err)
	}
	info := st.info

	var (
		out       []byte
		sinceMark int64
		budget    resetBudget
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, e.storeFailure(err, omnicas.ErrCodeStream)
		}

		before := info.StreamPos
		if err := handler.PrepareBuffer(info); err != nil {
			return nil, e.handlerFailure(err)
		}
		n := info.TransferLen
		if n < 0 || n > int64(len(info.Buffer)) {
			return nil, e.fail(omnicas.ErrCodeStream, "prepared block length %d out of range", n)
		}
		if n == 0 && !info.AtEOF {
			return nil, e.fail(omnicas.ErrCodeStream, "empty block before end of stream")
		}
		if info.StreamPos == before {
			info.StreamPos += n
		}

		pos := int64(len(out))
		if n > 0 && e.faulted(omnicas.Upload, pos) {
			mark := min(max(info.MarkerPos, 0), pos)
			if err := e.spend(&budget, omnicas.Upload, pos+n-mark); err != nil {
				return nil, err
			}
			if err := handler.ResetMark(info); err != nil {
				return nil, e.handlerFailure(err)
			}
			info.StreamPos = mark
			info.AtEOF = false
			out = out[:mark]
			sinceMark = 0
			continue
		}

		out = append(out, info.Buffer[:n]...)
		if err := handler.BlockTransferred(info); err != nil {
			return nil, e.handlerFailure(err)
		}
		if info.AtEOF {
			break
		}

		sinceMark += n
		if sinceMark >= e.config.MarkInterval {
			if err := handler.SetMark(info); err != nil {
				return nil, e.handlerFailure(err)
			}
			sinceMark = 0
		}
	}

	if info.StreamLen >= 0 && int64(len(out)) != info.StreamLen {
		return nil, e.fail(omnicas.ErrCodeStreamByteCount, "stream delivered %d bytes, expected %d", len(out), info.StreamLen)
	}
	if err := handler.TransferComplete(info); err != nil {
		return nil, e.handlerFailure(err)
	}
	return out, nil
}

// download delivers data to the stream behind h in blocks.
func (e *Engine) download(ctx context.Context, h omnicas.Handle, data []byte) error {
	st, err := lookup[*stream](e, h)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	handler, err := st.begin(omnicas.Download)
	if err != nil {
		return e.fail(omnicas.ErrCodeStream, "stream %s: %v", st.kind, err)
	}
	info := st.info
	info.StreamLen = int64(len(data))

	block := e.config.BlockSize
	if cap(info.Buffer) < block {
		info.Buffer = make([]byte, block)
	}
	info.Buffer = info.Buffer[:block]

	var (
		pos       int64
		sinceMark int64
		budget    resetBudget
	)
	for pos < int64(len(data)) {
		if err := ctx.Err(); err != nil {
			return e.storeFailure(err, omnicas.ErrCodeStream)
		}

		n := int64(copy(info.Buffer, data[pos:]))
		if e.faulted(omnicas.Download, pos) {
			mark := min(max(info.MarkerPos, 0), pos)
			if err := e.spend(&budget, omnicas.Download, pos+n-mark); err != nil {
				return err
			}
			if err := handler.ResetMark(info); err != nil {
				return e.handlerFailure(err)
			}
			info.StreamPos = mark
			pos = mark
			sinceMark = 0
			continue
		}

		info.TransferLen = n
		info.AtEOF = pos+n == int64(len(data))
		before := info.StreamPos
		if err := handler.BlockTransferred(info); err != nil {
			return e.handlerFailure(err)
		}
		if info.StreamPos == before {
			info.StreamPos += n
		}
		pos += n

		sinceMark += n
		if sinceMark >= e.config.MarkInterval && !info.AtEOF {
			if err := handler.SetMark(info); err != nil {
				return e.handlerFailure(err)
			}
			sinceMark = 0
		}
	}

	info.AtEOF = true
	info.TransferLen = 0
	if err := handler.TransferComplete(info); err != nil {
		return e.handlerFailure(err)
	}
	return nil
}
