package speech

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kairoslabs/kairos/internal/logging"
)

// WhisperCLI transcribes by shelling out to a whisper.cpp-style binary:
// the segment is written to a temp WAV, the binary emits a .txt transcript.
type WhisperCLI struct {
	bin   string
	model string
	args  []string
}

// NewWhisperCLI verifies the binary exists and returns the engine.
// extraArgs are passed through before the per-call flags.
func NewWhisperCLI(bin, model string, extraArgs []string) (*WhisperCLI, error) {
	if bin == "" {
		bin = "whisper-cli"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("whisper binary not found: %w", err)
	}

	logging.Info("Speech engine ready", "bin", bin, "model", model)
	return &WhisperCLI{bin: bin, model: model, args: extraArgs}, nil
}

// Transcribe writes the buffer to a temp WAV and runs the binary on it.
// The temp directory is removed on every path.
func (w *WhisperCLI) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	dir, err := os.MkdirTemp("", "kairos-segment-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	wavPath := filepath.Join(dir, "segment.wav")
	f, err := os.Create(wavPath)
	if err != nil {
		return "", fmt.Errorf("create wav: %w", err)
	}
	if err := writeWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return "", fmt.Errorf("write wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close wav: %w", err)
	}

	outPrefix := filepath.Join(dir, "segment")

	args := append([]string{}, w.args...)
	if w.model != "" {
		args = append(args, "-m", w.model)
	}
	args = append(args,
		"-f", wavPath,
		"-otxt",
		"-of", outPrefix,
	)

	cmd := exec.CommandContext(ctx, w.bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("running whisper: %w (%s)", err, strings.TrimSpace(string(out)))
	}

	transcript, err := os.ReadFile(outPrefix + ".txt")
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}

	return strings.TrimSpace(string(transcript)), nil
}
