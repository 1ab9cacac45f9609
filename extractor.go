package serial

import "bytes"

// extractor pulls the most recent complete frame out of a frameBuffer.
//
// Only the newest frame per call is returned; any older complete frames
// still sitting in the buffer are discarded with the trimmed prefix.
type extractor struct {
	delim byte

	// aligned is set once a delimiter has been consumed: the buffer head is
	// then a frame boundary and counts as the opening delimiter.
	aligned bool
}

func newExtractor(delim byte) *extractor {
	return &extractor{delim: delim}
}

// extract returns a freshly allocated copy of the newest frame and trims the
// buffer through its closing delimiter. ok is false when the buffer does not
// yet hold a delimited frame.
func (x *extractor) extract(b *frameBuffer) (frame []byte, ok bool) {
	data := b.Bytes()
	last := bytes.LastIndexByte(data, x.delim)

	var start int
	if x.aligned {
		// Index 0 here sits one past the consumed boundary, so a delimiter
		// at the head is held back just like a delimiter at index 1 of an
		// unaligned buffer.
		if last < 1 {
			return nil, false
		}
		start = bytes.LastIndexByte(data[:last], x.delim) + 1
	} else {
		if last <= 1 {
			return nil, false
		}
		prev := bytes.LastIndexByte(data[:last], x.delim)
		if prev < 0 {
			return nil, false
		}
		start = prev + 1
	}

	frame = bytes.Clone(data[start:last])
	b.Discard(last + 1)
	x.aligned = true
	return frame, true
}

// reset forgets the boundary, e.g. after the buffer was dropped.
func (x *extractor) reset() { x.aligned = false }
