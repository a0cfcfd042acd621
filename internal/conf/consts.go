// consts.go: audio format constants shared across the pipeline.
package conf

const (
	// SampleRate is the fixed capture and analysis sample rate. The sound
	// classifier expects one second of 16 kHz mono audio.
	SampleRate = 16000

	// NumChannels is the number of capture channels.
	NumChannels = 1

	// BitDepth is the capture bit depth.
	BitDepth = 16

	// WindowSamples is the size of the sliding analysis window, one second
	// of audio at SampleRate.
	WindowSamples = SampleRate

	// FrameSamples is the preferred capture frame size in samples.
	FrameSamples = 4096

	// ClassifierLabels is the number of output classes of the general
	// sound classifier. The impulse model consumes a score vector of
	// exactly this length.
	ClassifierLabels = 521
)
