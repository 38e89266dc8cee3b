// Package ffmpeg drives an external ffmpeg binary to mux separately
// downloaded audio and video streams into one MP4 container.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

const (
	// Keep only the tail of ffmpeg's stderr in errors, the full output can
	// run to hundreds of lines.
	maxStderrTail = 1024
)

type Muxer struct {
	binPath string
	log     *slog.Logger
}

func NewMuxer(binPath string, log *slog.Logger) *Muxer {
	return &Muxer{
		binPath: binPath,
		log:     log.With(slog.String("item", "Muxer")),
	}
}

// Mux combines videoPath and audioPath into outPath. The video track is
// copied as-is, audio is re-encoded to AAC.
func (m *Muxer) Mux(ctx context.Context, videoPath, audioPath, outPath string) error {
	args := []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		outPath,
	}

	m.log.Debug("Run ffmpeg", slog.String("args", strings.Join(args, " ")))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, m.binPath, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		tail := stderr.String()
		if len(tail) > maxStderrTail {
			tail = tail[len(tail)-maxStderrTail:]
		}

		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail)
	}

	return nil
}
