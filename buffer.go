package serial

import "bytes"

// frameBuffer accumulates raw reads until a frame boundary is seen.
// Bytes are only ever appended at the tail or dropped from the head.
type frameBuffer struct {
	buf bytes.Buffer
}

func (b *frameBuffer) Write(p []byte) {
	b.buf.Write(p)
}

// Bytes aliases the unread contents; valid until the next mutation.
func (b *frameBuffer) Bytes() []byte { return b.buf.Bytes() }

func (b *frameBuffer) Len() int { return b.buf.Len() }

// Discard drops the first n bytes.
func (b *frameBuffer) Discard(n int) {
	b.buf.Next(n)
	if b.buf.Len() == 0 {
		b.buf.Reset()
	}
}

func (b *frameBuffer) Reset() { b.buf.Reset() }
