package audio

import (
	"sync"

	"github.com/smallnest/ringbuffer"

	"github.com/soundguardian/sentinel-go/internal/conf"
	"github.com/soundguardian/sentinel-go/internal/errors"
)

const bytesPerSample = conf.BitDepth / 8

// FrameBuffer decouples the capture callback from the analysis loop. The
// device callback writes raw PCM bytes, the pipeline pulls fixed-size frames
// of float32 samples. When the consumer falls behind the oldest audio is
// discarded so capture never blocks.
type FrameBuffer struct {
	mu         sync.Mutex
	rb         *ringbuffer.RingBuffer
	frameBytes int
	overruns   uint64
}

// NewFrameBuffer creates a buffer able to hold capacityFrames frames of
// frameSamples samples each.
func NewFrameBuffer(frameSamples, capacityFrames int) *FrameBuffer {
	frameBytes := frameSamples * bytesPerSample
	return &FrameBuffer{
		rb:         ringbuffer.New(frameBytes * capacityFrames),
		frameBytes: frameBytes,
	}
}

// Write appends raw S16LE PCM bytes from the capture callback. On overflow
// the buffer is drained by one frame and the write retried, dropping the
// oldest audio rather than the newest.
func (fb *FrameBuffer) Write(data []byte) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.rb.Free() < len(data) {
		fb.overruns++
		discard := make([]byte, fb.frameBytes)
		if _, err := fb.rb.Read(discard); err != nil {
			fb.rb.Reset()
		}
	}
	if _, err := fb.rb.Write(data); err != nil {
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryAudioBuffer).
			Context("operation", "framebuffer_write").
			Build()
	}
	return nil
}

// ReadFrame returns one frame of samples, or ok=false when a full frame is
// not yet available.
func (fb *FrameBuffer) ReadFrame() (samples []float32, ok bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.rb.Length() < fb.frameBytes {
		return nil, false
	}
	raw := make([]byte, fb.frameBytes)
	if _, err := fb.rb.Read(raw); err != nil {
		return nil, false
	}
	return BytesToFloat32(raw), true
}

// Overruns reports how many times the buffer dropped audio because the
// consumer fell behind.
func (fb *FrameBuffer) Overruns() uint64 {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.overruns
}
