package audio

import (
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/soundguardian/sentinel-go/internal/conf"
	"github.com/soundguardian/sentinel-go/internal/errors"
)

// FrameCallback receives successive frames of mono float32 samples.
type FrameCallback func(frame []float32) error

// ReadWAVFrames streams a 16 kHz WAV file through callback in frames of
// frameSamples samples. Stereo input is downmixed to mono. The final partial
// frame is delivered without padding.
func ReadWAVFrames(path string, frameSamples int, callback FrameCallback) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer file.Close() //nolint:errcheck

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return errors.Newf("input is not a valid WAV audio file").
			Component("audio").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
	if int(decoder.SampleRate) != conf.SampleRate {
		return errors.Newf("unsupported sample rate %d, want %d", decoder.SampleRate, conf.SampleRate).
			Component("audio").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
	if decoder.NumChans != 1 && decoder.NumChans != 2 {
		return errors.Newf("unsupported number of channels: %d", decoder.NumChans).
			Component("audio").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}

	divisor, err := audioDivisor(int(decoder.BitDepth))
	if err != nil {
		return err
	}

	channels := int(decoder.NumChans)
	buf := &gaudio.IntBuffer{
		Data:   make([]int, frameSamples*channels),
		Format: &gaudio.Format{SampleRate: conf.SampleRate, NumChannels: channels},
	}

	var pending []float32
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return errors.New(err).
				Component("audio").
				Category(errors.CategoryFileIO).
				Context("path", path).
				Build()
		}
		if n == 0 {
			break
		}

		for i := 0; i+channels <= n; i += channels {
			var sum float32
			for c := 0; c < channels; c++ {
				sum += float32(buf.Data[i+c]) / divisor
			}
			pending = append(pending, sum/float32(channels))
		}

		for len(pending) >= frameSamples {
			if err := callback(pending[:frameSamples]); err != nil {
				return err
			}
			pending = pending[frameSamples:]
		}
	}

	if len(pending) > 0 {
		return callback(pending)
	}
	return nil
}

func audioDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, errors.Newf("unsupported bit depth: %d", bitDepth).
			Component("audio").
			Category(errors.CategoryValidation).
			Build()
	}
}
