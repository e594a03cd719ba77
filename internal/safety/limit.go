package safety

import (
	"bytes"
	"errors"
)

// ErrOutputTooLarge indicates a writer received more than its configured limit.
var ErrOutputTooLarge = errors.New("output too large")

// LimitedBuffer is an io.Writer holding at most Limit bytes. A write past the
// limit fails with ErrOutputTooLarge, or is silently truncated when Discard is
// set. OnExceed runs once, on the first write that crosses the limit.
type LimitedBuffer struct {
	Limit    int64
	Discard  bool
	OnExceed func()

	buf      bytes.Buffer
	exceeded bool
}

func (b *LimitedBuffer) Write(p []byte) (int, error) {
	room := b.Limit - int64(b.buf.Len())
	if int64(len(p)) <= room {
		return b.buf.Write(p)
	}

	n := 0
	if room > 0 {
		n, _ = b.buf.Write(p[:room])
	}
	if !b.exceeded {
		b.exceeded = true
		if b.OnExceed != nil {
			b.OnExceed()
		}
	}
	if b.Discard {
		return len(p), nil
	}
	return n, ErrOutputTooLarge
}

// Exceeded reports whether any write crossed the limit.
func (b *LimitedBuffer) Exceeded() bool {
	return b.exceeded
}

// Bytes returns the retained content.
func (b *LimitedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

func (b *LimitedBuffer) String() string {
	return b.buf.String()
}
