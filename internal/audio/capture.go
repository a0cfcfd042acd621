package audio

import (
	"encoding/hex"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/soundguardian/sentinel-go/internal/conf"
	"github.com/soundguardian/sentinel-go/internal/errors"
	"github.com/soundguardian/sentinel-go/internal/logging"
)

// CaptureAudio starts the microphone capture goroutine. Captured PCM is
// written to fb; the goroutine exits when quitChan closes, and signals
// restartChan when the device dies and cannot be recovered in place.
func CaptureAudio(settings *conf.Settings, fb *FrameBuffer, wg *sync.WaitGroup, quitChan, restartChan chan struct{}) {
	wg.Add(1)
	go captureAudioMalgo(settings, fb, wg, quitChan, restartChan)
}

func captureAudioMalgo(settings *conf.Settings, fb *FrameBuffer, wg *sync.WaitGroup, quitChan, restartChan chan struct{}) {
	defer wg.Done()
	log := logging.ForService("audio")
	var device *malgo.Device

	// if Linux set malgo.BackendAlsa, else set nil for auto select
	var backend malgo.Backend
	switch runtime.GOOS {
	case "linux":
		backend = malgo.BackendAlsa
	case "windows":
		backend = malgo.BackendWasapi
	case "darwin":
		backend = malgo.BackendCoreaudio
	}

	malgoCtx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, func(message string) {
		if settings.Debug {
			fmt.Print(message)
		}
	})
	if err != nil {
		log.Error("audio context init failed", "error", err)
		return
	}
	defer malgoCtx.Uninit() //nolint:errcheck

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = conf.NumChannels
	deviceConfig.SampleRate = conf.SampleRate
	deviceConfig.Alsa.NoMMap = 1

	infos, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		log.Error("listing capture devices failed", "error", err)
		return
	}

	source, err := selectCaptureSource(settings, infos)
	if err != nil {
		log.Error("selecting capture source failed", "error", err)
		return
	}
	deviceConfig.Capture.DeviceID = source.pointer

	onReceiveFrames := func(_, pSamples []byte, framecount uint32) {
		if err := fb.Write(pSamples); err != nil {
			log.Warn("frame buffer write failed", "error", err)
		}
	}

	deviceDied := make(chan struct{}, 1)

	// onStopDevice fires when the device stops, either normally or
	// unexpectedly. Outside shutdown, try a restart in place first and fall
	// back to a full capture restart.
	onStopDevice := func() {
		go func() {
			select {
			case <-quitChan:
				return
			case <-time.After(100 * time.Millisecond):
				if err := device.Start(); err != nil {
					log.Warn("audio device restart failed, requesting full restart", "error", err)
					select {
					case deviceDied <- struct{}{}:
					default:
					}
				} else if settings.Debug {
					log.Debug("audio device restarted")
				}
			}
		}()
	}

	device, err = malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onReceiveFrames,
		Stop: onStopDevice,
	})
	if err != nil {
		log.Error("capture device init failed", "device", source.name, "error", err)
		return
	}

	if err := device.Start(); err != nil {
		log.Error("capture device start failed", "device", source.name, "error", err)
		return
	}
	defer device.Stop() //nolint:errcheck

	log.Info("listening on capture source", "device", source.name, "id", source.id)

	select {
	case <-quitChan:
	case <-deviceDied:
		time.Sleep(1 * time.Second)
		select {
		case restartChan <- struct{}{}:
		default:
		}
	}
}

type selectedSource struct {
	name    string
	id      string
	pointer unsafe.Pointer
}

// selectCaptureSource picks the capture device matching settings.Audio.Source
// from the available device list.
func selectCaptureSource(settings *conf.Settings, infos []malgo.DeviceInfo) (selectedSource, error) {
	var selected selectedSource
	var found bool

	for i, info := range infos {
		decodedID, err := hexToASCII(info.ID.String())
		if err != nil {
			continue
		}
		if settings.Debug {
			fmt.Printf("  %d: %s, %s\n", i, info.Name(), decodedID)
		}
		if matchesDeviceSettings(decodedID, info, settings.Audio.Source) {
			selected = selectedSource{
				name:    info.Name(),
				id:      decodedID,
				pointer: info.ID.Pointer(),
			}
			found = true
		}
	}

	if !found {
		return selectedSource{}, errors.Newf("no capture source matches %q", settings.Audio.Source).
			Component("audio").
			Category(errors.CategoryAudioCapture).
			Context("source", settings.Audio.Source).
			Build()
	}
	return selected, nil
}

// matchesDeviceSettings checks if the device matches the source specified by
// the user.
func matchesDeviceSettings(decodedID string, info malgo.DeviceInfo, audioSource string) bool {
	if runtime.GOOS == "windows" && audioSource == "sysdefault" {
		// Windows has no "sysdefault", use miniaudio's default device.
		return info.IsDefault == 1
	}
	return decodedID == audioSource || strings.Contains(info.Name(), audioSource)
}

// hexToASCII converts a hexadecimal string to an ASCII string.
func hexToASCII(hexStr string) (string, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
