package video

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/ivlev/photoseq/internal/model"
	"github.com/ivlev/photoseq/internal/system"
)

// FFmpegEncoder реализует VideoEncoder через системный FFmpeg: raw RGBA кадры
// идут в stdin, на выходе H.264 MP4.
type FFmpegEncoder struct {
	Binary  string // исполняемый файл, по умолчанию "ffmpeg"
	Codec   string // libx264, h264_nvenc, h264_videotoolbox
	Quality int
}

// NewFFmpegEncoder выбирает лучший H.264 энкодер из доступных в локальном ffmpeg
func NewFFmpegEncoder(quality int) *FFmpegEncoder {
	codec := system.GetBestH264Encoder()
	if quality <= 0 {
		quality = system.DefaultQuality(codec)
	}
	return &FFmpegEncoder{Binary: "ffmpeg", Codec: codec, Quality: quality}
}

func (e *FFmpegEncoder) Name() string {
	return "ffmpeg/" + e.codec()
}

func (e *FFmpegEncoder) Encode(ctx context.Context, frames FrameSource, res model.Resolution, fps int, dest string) (*model.VideoArtifact, error) {
	if err := prepareDestination(dest); err != nil {
		return nil, ioError(0, dest, err)
	}

	pctx, kill := context.WithCancel(ctx)
	defer kill()

	binary := e.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	cmd := exec.CommandContext(pctx, binary, e.buildFFmpegArgs(res, fps, PartialPath(dest))...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, ioError(0, dest, fmt.Errorf("stdin pipe error: %w", err))
	}
	if err := cmd.Start(); err != nil {
		Cleanup(dest)
		return nil, ioError(0, dest, fmt.Errorf("ffmpeg start error: %w", err))
	}

	// out читают только после Wait: до этого в него пишут горутины exec
	stop := func() {
		stdin.Close()
		kill()
		cmd.Wait()
		Cleanup(dest)
	}
	abort := func(cause error) error {
		stop()
		return cause
	}

	written := 0
	for {
		fb, err := frames.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, abort(err)
		}
		if err := checkFrame(fb, res, written, dest); err != nil {
			fb.Release()
			return nil, abort(err)
		}
		err = writeRawRGBA(stdin, fb.Image)
		fb.Release()
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil, cancelled(written, dest, ctx.Err())
			}
			return nil, ioError(written, dest, fmt.Errorf("write raw error: %w, output: %s", err, tail(out.String())))
		}
		written++
	}

	if err := stdin.Close(); err != nil {
		return nil, abort(ioError(written, dest, err))
	}
	if err := cmd.Wait(); err != nil {
		Cleanup(dest)
		if ctx.Err() != nil {
			return nil, cancelled(written, dest, ctx.Err())
		}
		return nil, ioError(written, dest, fmt.Errorf("ffmpeg wait error: %w, output: %s", err, tail(out.String())))
	}

	artifact, err := commit(ctx, dest, res, fps, written, "mp4")
	if err != nil {
		Cleanup(dest)
		return nil, err
	}
	return artifact, nil
}

func (e *FFmpegEncoder) buildFFmpegArgs(res model.Resolution, fps int, output string) []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", res.String(),
		"-framerate", fmt.Sprintf("%d", fps),
		"-i", "-",
		"-c:v", e.codec(),
		"-pix_fmt", "yuv420p",
	}

	// Качество в зависимости от энкодера
	switch e.codec() {
	case "h264_videotoolbox":
		// VideoToolbox часто не поддерживает -q:v напрямую на всех версиях. Используем битрейт.
		bitrate := e.Quality * 100
		args = append(args, "-b:v", fmt.Sprintf("%dk", bitrate))
	case "h264_nvenc":
		args = append(args, "-cq", fmt.Sprintf("%d", e.Quality))
	default: // libx264
		args = append(args, "-crf", fmt.Sprintf("%d", e.Quality), "-preset", "medium")
	}

	// У частичного файла нет расширения .mp4, поэтому формат указываем явно
	args = append(args, "-r", fmt.Sprintf("%d", fps), "-movflags", "+faststart", "-f", "mp4", output)
	return args
}

func (e *FFmpegEncoder) codec() string {
	if e.Codec == "" {
		return "libx264"
	}
	return e.Codec
}

// tail оставляет конец лога ffmpeg, где обычно и находится ошибка
func tail(s string) string {
	s = strings.TrimSpace(s)
	const max = 2000
	if len(s) > max {
		return "..." + s[len(s)-max:]
	}
	return s
}
