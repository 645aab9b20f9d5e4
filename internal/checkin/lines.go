package checkin

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
)

// LineCamera treats each line read from r as one frame. Keyboard-wedge
// barcode scanners type the decoded payload followed by a newline, so this
// is how such a scanner plugs into the reader.
type LineCamera struct {
	r io.Reader

	once  sync.Once
	lines chan string
	err   error
}

// NewLineCamera reads frames from r. r is consumed by a single background
// goroutine that lives until r returns an error.
func NewLineCamera(r io.Reader) *LineCamera {
	return &LineCamera{r: r, lines: make(chan string)}
}

// Open starts reading lines. Each call returns a new stream over the same lines.
func (c *LineCamera) Open(ctx context.Context) (Stream, error) {
	c.once.Do(func() {
		go func() {
			sc := bufio.NewScanner(c.r)
			for sc.Scan() {
				c.lines <- sc.Text()
			}
			c.err = sc.Err()
			if c.err == nil {
				c.err = io.EOF
			}
			close(c.lines)
		}()
	})
	return &lineStream{cam: c, done: make(chan struct{})}, nil
}

type lineStream struct {
	cam       *LineCamera
	done      chan struct{}
	closeOnce sync.Once
}

func (s *lineStream) NextFrame(ctx context.Context) (Frame, error) {
	select {
	case line, ok := <-s.cam.lines:
		if !ok {
			return Frame{}, s.cam.err
		}
		return Frame{Data: []byte(line)}, nil
	case <-s.done:
		return Frame{}, io.ErrClosedPipe
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (s *lineStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// PrefixDecoder accepts frames whose trimmed text starts with prefix.
func PrefixDecoder(prefix string) Decoder {
	return DecoderFunc(func(f Frame) (string, bool) {
		text := strings.TrimSpace(string(f.Data))
		if text == "" || !strings.HasPrefix(text, prefix) {
			return "", false
		}
		return text, true
	})
}
