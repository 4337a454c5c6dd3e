package emitter

import (
	"context"

	"github.com/xkeyC/fl-caption/pkg/transcript"

	"google.golang.org/api/iterator"
)

// Stream is an Emitter read one segment at a time with Next.
type Stream struct {
	ch      *Chan
	pending []transcript.Segment
	done    bool
}

var _ Emitter = (*Stream)(nil)

// NewStream returns a stream buffering up to capacity batches.
func NewStream(capacity int) *Stream {
	return &Stream{ch: NewChan(capacity, DefaultTimeout)}
}

// Emit implements Emitter.
func (s *Stream) Emit(segments []transcript.Segment) {
	s.ch.Emit(segments)
}

// Next returns the next segment. It returns iterator.Done after the Exit
// segment has been returned or once the stream is closed and drained.
// Next must not be called concurrently.
func (s *Stream) Next(ctx context.Context) (transcript.Segment, error) {
	for len(s.pending) == 0 {
		if s.done {
			return transcript.Segment{}, iterator.Done
		}
		select {
		case batch, ok := <-s.ch.C():
			if !ok {
				s.done = true
				return transcript.Segment{}, iterator.Done
			}
			s.pending = batch
		case <-ctx.Done():
			return transcript.Segment{}, ctx.Err()
		}
	}
	seg := s.pending[0]
	s.pending = s.pending[1:]
	if seg.Status == transcript.Exit {
		s.done = true
		s.pending = nil
	}
	return seg, nil
}

// Dropped returns the number of batches dropped because the reader fell
// behind.
func (s *Stream) Dropped() int64 {
	return s.ch.Dropped()
}

// Close ends the stream. Buffered segments remain readable.
func (s *Stream) Close() {
	s.ch.Close()
}
