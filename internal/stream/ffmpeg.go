// ffmpeg.go
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
)

// FFmpegDecoder pipes the station bytes through an ffmpeg process that emits
// raw s16le PCM. It handles any format ffmpeg understands, not only MP3.
type FFmpegDecoder struct {
	Path   string
	Logger *slog.Logger
}

func (d FFmpegDecoder) Decode(ctx context.Context, r io.ReadCloser) (Source, error) {
	path := d.Path
	if path == "" {
		path = "ffmpeg"
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmdArgs := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-ac", strconv.Itoa(Channels),
		"-f", "s16le",
		"-ar", strconv.Itoa(SampleRate),
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, path, cmdArgs...)
	cmd.Stdin = r
	cmd.Stderr = &lineLogger{logger: logger.With("component", "ffmpeg")}
	ffmpegOut, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting ffmpeg: %w", err)
	}

	return &ffmpegSource{cmd: cmd, out: ffmpegOut, body: r}, nil
}

type ffmpegSource struct {
	cmd  *exec.Cmd
	out  io.Reader
	body io.Closer
	raw  []byte
}

func (s *ffmpegSource) ReadFrame(pcm []int16) error {
	need := len(pcm) * 2
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:need]

	n, err := io.ReadFull(s.out, raw)
	if n == 0 && err != nil {
		return err
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}

	// Convert little-endian byte pairs into int16 samples, silence past n.
	for i := range pcm {
		if 2*i+1 >= n {
			pcm[i] = 0
			continue
		}
		pcm[i] = int16(raw[2*i]) | int16(raw[2*i+1])<<8
	}
	return nil
}

func (s *ffmpegSource) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	// The stdin copier only returns once the body is closed.
	err := s.body.Close()
	_ = s.cmd.Wait()
	return err
}

// lineLogger forwards ffmpeg's stderr to the logger one line at a time.
type lineLogger struct {
	logger *slog.Logger
	buf    []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(l.buf[:i]); len(line) > 0 {
			l.logger.Warn("ffmpeg", "output", string(line))
		}
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}
