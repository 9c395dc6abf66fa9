package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"

	"voxsearch/internal/domain"
)

const ClipMimeType = "audio/wav"

var (
	ErrClipSealed = errors.New("audio clip is already sealed")
	ErrEmptyClip  = errors.New("audio clip is empty")
)

// ClipRecorder accumulates recorder chunks for the buffered capture path.
type ClipRecorder struct {
	sampleRate int

	mu     sync.Mutex
	chunks [][]int16
	total  int
	sealed bool
}

func NewClipRecorder(sampleRate int) *ClipRecorder {
	if sampleRate <= 0 {
		sampleRate = TargetSampleRate
	}
	return &ClipRecorder{sampleRate: sampleRate}
}

func (r *ClipRecorder) Write(samples []int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrClipSealed
	}
	if len(samples) == 0 {
		return nil
	}
	r.chunks = append(r.chunks, append([]int16(nil), samples...))
	r.total += len(samples)
	return nil
}

// Seal concatenates the chunks into one WAV clip. The recorder rejects writes afterwards.
func (r *ClipRecorder) Seal() (domain.AudioClip, error) {
	r.mu.Lock()
	if r.sealed {
		r.mu.Unlock()
		return domain.AudioClip{}, ErrClipSealed
	}
	r.sealed = true
	chunks := r.chunks
	total := r.total
	r.chunks = nil
	r.mu.Unlock()

	if total == 0 {
		return domain.AudioClip{}, ErrEmptyClip
	}

	data := make([]int, 0, total)
	for _, chunk := range chunks {
		for _, sample := range chunk {
			data = append(data, int(sample))
		}
	}

	encoded, err := EncodeWAV(data, r.sampleRate)
	if err != nil {
		return domain.AudioClip{}, err
	}

	return domain.AudioClip{
		Data:     encoded,
		MimeType: ClipMimeType,
		Duration: time.Duration(total) * time.Second / time.Duration(r.sampleRate),
	}, nil
}

// EncodeWAV writes 16-bit mono PCM samples as a RIFF/WAV file held in memory.
func EncodeWAV(samples []int, sampleRate int) ([]byte, error) {
	out := &writerseeker.WriterSeeker{}
	encoder := wav.NewEncoder(out, sampleRate, 16, 1, 1)

	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := encoder.Write(buffer); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}

	encoded, err := io.ReadAll(out.Reader())
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	return encoded, nil
}
