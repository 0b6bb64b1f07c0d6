package ac

import (
	"bytes"
)

const FrameTerminator = '\n'

// Turns an unbounded byte stream into `\n`-terminated frames.
// A frame split across reads is retained until its terminator arrives.
// There is no maximum frame length.
type FrameReader struct {
	buffer []byte
}

func NewFrameReader() *FrameReader {
	return &FrameReader{}
}

// appends `chunk` and returns every frame completed by it, in arrival order,
// without the terminator and with carriage returns stripped
func (self *FrameReader) Write(chunk []byte) []string {
	for _, b := range chunk {
		if b != '\r' {
			self.buffer = append(self.buffer, b)
		}
	}

	frames := []string{}
	for {
		i := bytes.IndexByte(self.buffer, FrameTerminator)
		if i < 0 {
			break
		}
		frames = append(frames, string(self.buffer[:i]))
		self.buffer = self.buffer[i+1:]
	}
	if len(self.buffer) == 0 {
		// release the backing array of consumed frames
		self.buffer = nil
	}
	return frames
}

// the length of the unterminated tail
func (self *FrameReader) Buffered() int {
	return len(self.buffer)
}

func (self *FrameReader) Reset() {
	self.buffer = nil
}
