package audio

import (
	"testing"
	"time"

	"voxsearch/internal/domain"
)

func TestPCMDecoderCarriesSplitSample(t *testing.T) {
	t.Parallel()

	var d PCMDecoder
	first := d.Decode([]byte{0x01, 0x00, 0xff})
	if len(first) != 1 || first[0] != 1 {
		t.Fatalf("unexpected first decode: %v", first)
	}
	second := d.Decode([]byte{0x7f})
	if len(second) != 1 || second[0] != 0x7fff {
		t.Fatalf("unexpected carried sample: %v", second)
	}
}

func TestResamplerDecimatesByNearestNeighbour(t *testing.T) {
	t.Parallel()

	r := NewResampler(48000, 16000)
	in := make([]int16, 9)
	for i := range in {
		in[i] = int16(i)
	}
	got := r.Process(in)
	want := []int16{0, 3, 6}
	if len(got) != len(want) {
		t.Fatalf("unexpected length: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected samples: %v", got)
		}
	}

	// The read position carries across blocks: 48k -> 16k keeps every third sample.
	got = r.Process([]int16{9, 10, 11, 12, 13})
	if len(got) != 2 || got[0] != 9 || got[1] != 12 {
		t.Fatalf("unexpected carried samples: %v", got)
	}
}

func TestResamplerFractionalRatio(t *testing.T) {
	t.Parallel()

	r := NewResampler(44100, 16000)
	total := 0
	for i := 0; i < 10; i++ {
		total += len(r.Process(make([]int16, 4410)))
	}
	if total < 15999 || total > 16001 {
		t.Fatalf("expected ~16000 samples for one second, got %d", total)
	}
}

func TestResamplerPassThrough(t *testing.T) {
	t.Parallel()

	in := []int16{1, 2, 3}
	got := NewResampler(16000, 16000).Process(in)
	in[0] = 9
	if len(got) != 3 || got[0] != 1 {
		t.Fatalf("expected copied pass-through, got %v", got)
	}
}

func TestFramerEmitsFixedFramesInOrder(t *testing.T) {
	t.Parallel()

	f := NewFramer(4)
	frames := f.Push([]int16{1, 2, 3})
	if len(frames) != 0 {
		t.Fatalf("expected no frame before fill")
	}
	frames = f.Push([]int16{4, 5, 6, 7, 8, 9})
	if len(frames) != 2 {
		t.Fatalf("expected two frames, got %d", len(frames))
	}
	if frames[0].Seq != 0 || frames[1].Seq != 1 {
		t.Fatalf("unexpected sequence numbers: %d %d", frames[0].Seq, frames[1].Seq)
	}
	if frames[0].Samples[0] != 1 || frames[1].Samples[0] != 5 {
		t.Fatalf("frames out of order: %v %v", frames[0].Samples, frames[1].Samples)
	}

	tail, ok := f.Flush()
	if !ok || len(tail.Samples) != 1 || tail.Samples[0] != 9 || tail.Seq != 2 {
		t.Fatalf("unexpected tail frame: %+v ok=%v", tail, ok)
	}
	if _, ok := f.Flush(); ok {
		t.Fatalf("expected empty flush")
	}
}

func TestFrameQueuePreservesOrderAndSeals(t *testing.T) {
	t.Parallel()

	q := NewFrameQueue(4)
	for i := 0; i < 3; i++ {
		if !q.Push(domain.AudioFrame{Seq: uint64(i)}) {
			t.Fatalf("push %d rejected", i)
		}
	}
	q.Seal()

	var got []uint64
	for frame := range q.Frames() {
		got = append(got, frame.Seq)
	}
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("unexpected frames: %v", got)
	}
}

func TestFrameQueueBlocksThenDropsAfterClose(t *testing.T) {
	t.Parallel()

	q := NewFrameQueue(1)
	if !q.Push(domain.AudioFrame{Seq: 0}) {
		t.Fatalf("first push rejected")
	}

	result := make(chan bool, 1)
	go func() { result <- q.Push(domain.AudioFrame{Seq: 1}) }()

	select {
	case <-result:
		t.Fatalf("push on a full queue should block")
	case <-time.After(20 * time.Millisecond):
	}

	q.Close()
	if ok := <-result; ok {
		t.Fatalf("blocked push should be dropped after close")
	}
	if q.Push(domain.AudioFrame{Seq: 2}) {
		t.Fatalf("push after close should be dropped")
	}
	if q.Dropped() != 2 {
		t.Fatalf("expected 2 dropped frames, got %d", q.Dropped())
	}
	q.Close()
}
