//go:build cgo

package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/foxseedlab/tsuyaku/internal/audio"
	"github.com/gen2brain/malgo"
)

// Microphone captures the default input device as 16 kHz mono s16 PCM.
type Microphone struct {
	mu     sync.Mutex
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	closed bool
}

func NewMicrophone() (*Microphone, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Microphone{mctx: mctx}, nil
}

func (m *Microphone) Stream(ctx context.Context, onChunk func([]byte)) error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = audio.Channels
	deviceConfig.SampleRate = audio.SampleRate
	deviceConfig.Alsa.NoMMap = 1

	frameBytes := audio.Channels * audio.BytesPerSample
	onRecvFrames := func(_, pInputSamples []byte, frameCount uint32) {
		n := int(frameCount) * frameBytes
		if n == 0 || len(pInputSamples) < n {
			return
		}
		onChunk(pInputSamples[:n])
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("microphone is closed")
	}
	device, err := malgo.InitDevice(m.mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("init capture device: %w", err)
	}
	m.device = device
	m.mu.Unlock()

	if err := device.Start(); err != nil {
		m.releaseDevice()
		return fmt.Errorf("start capture device: %w", err)
	}
	slog.Info("microphone capture started", "sample_rate", audio.SampleRate, "channels", audio.Channels)

	<-ctx.Done()
	m.releaseDevice()
	slog.Info("microphone capture stopped")
	return nil
}

func (m *Microphone) releaseDevice() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return
	}
	if err := m.device.Stop(); err != nil {
		slog.Warn("failed to stop capture device", "error", err)
	}
	m.device.Uninit()
	m.device = nil
}

func (m *Microphone) Close() error {
	m.releaseDevice()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	err := m.mctx.Uninit()
	m.mctx.Free()
	if err != nil {
		return fmt.Errorf("uninit audio context: %w", err)
	}
	return nil
}

func newMicrophoneSource() (audio.Source, error) {
	return NewMicrophone()
}
