package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/foxseedlab/tsuyaku/internal/audio"
)

const stdinChunk = 100 * time.Millisecond

// StdinReader streams raw PCM from a reader in fixed chunks. When pace is set
// each chunk is held back for its own duration so piped files play in real time.
type StdinReader struct {
	r    io.Reader
	pace bool
}

func NewStdinReader(r io.Reader, pace bool) *StdinReader {
	return &StdinReader{r: r, pace: pace}
}

func (s *StdinReader) Stream(ctx context.Context, onChunk func([]byte)) error {
	buf := make([]byte, audio.FrameBytes(stdinChunk))
	var ticker *time.Ticker
	if s.pace {
		ticker = time.NewTicker(stdinChunk)
		defer ticker.Stop()
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		n, err := io.ReadFull(s.r, buf)
		if n > 0 {
			// keep whole samples only
			n -= n % audio.BytesPerSample
			onChunk(buf[:n])
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read audio input: %w", err)
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	}
}

func (s *StdinReader) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
