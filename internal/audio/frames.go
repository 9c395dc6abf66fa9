package audio

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"voxsearch/internal/domain"
)

const (
	// TargetSampleRate is the rate every frame and clip is delivered at.
	TargetSampleRate = 16000
	// FrameSamples is ~100 ms of audio at TargetSampleRate.
	FrameSamples = 1600
)

// PCMDecoder turns s16le byte chunks into samples, carrying a split sample across calls.
type PCMDecoder struct {
	carry []byte
}

func (d *PCMDecoder) Decode(chunk []byte) []int16 {
	if len(d.carry) > 0 {
		chunk = append(d.carry, chunk...)
		d.carry = nil
	}
	n := len(chunk) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(chunk[i*2:]))
	}
	if len(chunk)%2 != 0 {
		d.carry = []byte{chunk[len(chunk)-1]}
	}
	return samples
}

// Resampler converts between rates by nearest-neighbour decimation.
type Resampler struct {
	ratio float64
	pos   float64
}

func NewResampler(inRate int, outRate int) *Resampler {
	if inRate <= 0 || outRate <= 0 {
		return &Resampler{ratio: 1}
	}
	return &Resampler{ratio: float64(inRate) / float64(outRate)}
}

// Process resamples one block. The fractional read position carries into the next block.
func (r *Resampler) Process(in []int16) []int16 {
	if r.ratio == 1 {
		return append([]int16(nil), in...)
	}
	out := make([]int16, 0, int(float64(len(in))/r.ratio)+1)
	pos := r.pos
	for ; pos < float64(len(in)); pos += r.ratio {
		out = append(out, in[int(pos)])
	}
	r.pos = pos - float64(len(in))
	return out
}

// Framer accumulates samples into fixed-size frames.
type Framer struct {
	size    int
	pending []int16
	seq     uint64
}

func NewFramer(size int) *Framer {
	if size <= 0 {
		size = FrameSamples
	}
	return &Framer{size: size}
}

// Push appends samples and returns every frame that filled, in capture order.
func (f *Framer) Push(samples []int16) []domain.AudioFrame {
	f.pending = append(f.pending, samples...)
	var frames []domain.AudioFrame
	for len(f.pending) >= f.size {
		frame := make([]int16, f.size)
		copy(frame, f.pending[:f.size])
		f.pending = f.pending[f.size:]
		frames = append(frames, domain.AudioFrame{Seq: f.seq, Samples: frame})
		f.seq++
	}
	return frames
}

// Flush returns the trailing partial frame, if any.
func (f *Framer) Flush() (domain.AudioFrame, bool) {
	if len(f.pending) == 0 {
		return domain.AudioFrame{}, false
	}
	frame := domain.AudioFrame{Seq: f.seq, Samples: append([]int16(nil), f.pending...)}
	f.pending = nil
	f.seq++
	return frame, true
}

// FrameQueue is the bounded hand-off between the capture goroutine and the transport sender.
// Push blocks while the queue is full; frames are dropped only once the queue is closed.
type FrameQueue struct {
	frames chan domain.AudioFrame
	done   chan struct{}

	sealOnce  sync.Once
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = 32
	}
	return &FrameQueue{
		frames: make(chan domain.AudioFrame, capacity),
		done:   make(chan struct{}),
	}
}

// Push must only be called by the single producer, and never after Seal.
func (q *FrameQueue) Push(frame domain.AudioFrame) bool {
	select {
	case <-q.done:
		q.dropped.Add(1)
		return false
	default:
	}
	select {
	case q.frames <- frame:
		return true
	case <-q.done:
		q.dropped.Add(1)
		return false
	}
}

// Seal marks the end of production; consumers drain what is queued.
func (q *FrameQueue) Seal() {
	q.sealOnce.Do(func() { close(q.frames) })
}

// Close abandons the queue and unblocks a waiting producer.
func (q *FrameQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *FrameQueue) Frames() <-chan domain.AudioFrame { return q.frames }

func (q *FrameQueue) Done() <-chan struct{} { return q.done }

func (q *FrameQueue) Dropped() uint64 { return q.dropped.Load() }
