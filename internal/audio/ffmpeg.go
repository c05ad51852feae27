package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/kairoslabs/kairos/internal/logging"
)

// ffmpegDevice streams s16le PCM from an ffmpeg capture process.
type ffmpegDevice struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	once   sync.Once
}

// NewFFmpegOpener returns an Opener that spawns ffmpeg reading from the
// given input format ("pulse", "alsa", ...) at sampleRate mono. The
// origin key selects the input device.
func NewFFmpegOpener(bin, format string, sampleRate int) Opener {
	if bin == "" {
		bin = "ffmpeg"
	}

	return func(origin string) (Device, error) {
		if _, err := exec.LookPath(bin); err != nil {
			return nil, fmt.Errorf("ffmpeg binary not found: %w", err)
		}

		cmd := exec.Command(bin,
			"-hide_banner",
			"-loglevel", "error",
			"-f", format,
			"-i", origin,
			"-ac", "1",
			"-ar", strconv.Itoa(sampleRate),
			"-f", "s16le",
			"-",
		)

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg stdout: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start ffmpeg capture: %w", err)
		}

		logging.Info("Audio capture started", "origin", origin, "rate", sampleRate)
		return &ffmpegDevice{cmd: cmd, stdout: stdout}, nil
	}
}

// Read blocks until frames samples have been captured.
func (d *ffmpegDevice) Read(frames int) ([]float32, error) {
	buf := make([]byte, frames*2)
	if _, err := io.ReadFull(d.stdout, buf); err != nil {
		return nil, fmt.Errorf("read capture stream: %w", err)
	}

	samples := make([]float32, frames)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(buf[i*2:]))
		samples[i] = float32(v) / 32768
	}
	return samples, nil
}

// Close terminates the capture process and releases the handle.
// The capture loop and the stop path may both call it.
func (d *ffmpegDevice) Close() error {
	d.once.Do(func() {
		d.stdout.Close()
		if d.cmd.Process != nil {
			d.cmd.Process.Kill()
		}
		d.cmd.Wait()
		logging.Info("Audio capture closed")
	})
	return nil
}
