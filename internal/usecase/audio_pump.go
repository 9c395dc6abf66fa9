package usecase

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"voxsearch/internal/audio"
	"voxsearch/internal/domain"
	"voxsearch/internal/endpoint"
	"voxsearch/internal/metrics"
	"voxsearch/internal/ports"
)

// captureSink receives the resampled audio of one tier attempt. Frame tiers get a queue;
// every attempt records a clip so a clip tier can take over after a failure.
type captureSink struct {
	mu       sync.Mutex
	detached bool
	framer   *audio.Framer
	queue    *audio.FrameQueue
	recorder *audio.ClipRecorder
}

func newCaptureSink(mode domain.CaptureMode, queueSize int) *captureSink {
	sink := &captureSink{recorder: audio.NewClipRecorder(audio.TargetSampleRate)}
	if mode == domain.CaptureFrames {
		sink.framer = audio.NewFramer(audio.FrameSamples)
		sink.queue = audio.NewFrameQueue(queueSize)
	}
	return sink
}

func (s *captureSink) write(samples []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached || len(samples) == 0 {
		return
	}
	_ = s.recorder.Write(samples)
	if s.queue == nil {
		return
	}
	for _, frame := range s.framer.Push(samples) {
		s.queue.Push(frame)
	}
}

// finish flushes the trailing frame, seals the queue and returns the recorded clip.
func (s *captureSink) finish() (domain.AudioClip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return domain.AudioClip{}, audio.ErrClipSealed
	}
	s.detached = true
	if s.queue != nil {
		if tail, ok := s.framer.Flush(); ok {
			s.queue.Push(tail)
		}
		s.queue.Seal()
	}
	return s.recorder.Seal()
}

// abandon closes the queue first so a producer blocked on it is released, then detaches.
func (s *captureSink) abandon() {
	if s.queue != nil {
		s.queue.Close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return
	}
	s.detached = true
	if s.queue != nil {
		s.queue.Seal()
	}
}

func (s *captureSink) dropped() uint64 {
	if s.queue == nil {
		return 0
	}
	return s.queue.Dropped()
}

// pumpAudio reads the device until it ends, feeding the level meter and whichever sink is attached.
func pumpAudio(
	device io.Reader,
	captureRate int,
	chunkSize int,
	sink *atomic.Pointer[captureSink],
	meter *endpoint.Meter,
	done chan struct{},
) error {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = 4096
	}

	var decoder audio.PCMDecoder
	resampler := audio.NewResampler(captureRate, audio.TargetSampleRate)

	buf := make([]byte, chunkSize)
	for {
		n, err := device.Read(buf)
		if n > 0 {
			samples := resampler.Process(decoder.Decode(buf[:n]))
			meter.Store(endpoint.RMS(samples))
			if current := sink.Load(); current != nil {
				current.write(samples)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// forwardFrames drains the queue into the transport in capture order.
func forwardFrames(queue *audio.FrameQueue, session ports.TransportSession, m *metrics.Metrics, done chan<- error) {
	for frame := range queue.Frames() {
		if err := session.SendFrame(frame); err != nil {
			queue.Close()
			done <- err
			return
		}
		m.RecordFrameSent()
	}
	done <- nil
}
