package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"
	"path/filepath"

	"github.com/ivlev/photoseq/internal/model"
	"github.com/ivlev/photoseq/internal/system"
)

// FrameSource yields frames in order and io.EOF after the last one.
type FrameSource interface {
	Next(ctx context.Context) (*model.FrameBuffer, error)
}

// VideoEncoder pulls every frame from frames and muxes them into dest. On any
// failure nothing is left at dest.
type VideoEncoder interface {
	Name() string
	Encode(ctx context.Context, frames FrameSource, res model.Resolution, fps int, dest string) (*model.VideoArtifact, error)
}

// NewEncoder resolves an encoder name: "auto" prefers ffmpeg and falls back to the
// built-in MJPEG muxer when no ffmpeg binary is available.
func NewEncoder(name string, quality int) (VideoEncoder, error) {
	switch name {
	case "auto", "":
		if system.HasFFmpeg() {
			return NewFFmpegEncoder(quality), nil
		}
		return NewMJPEGEncoder(quality), nil
	case "ffmpeg":
		return NewFFmpegEncoder(quality), nil
	case "mjpeg":
		return NewMJPEGEncoder(quality), nil
	default:
		return nil, fmt.Errorf("unknown encoder: %s", name)
	}
}

// PartialPath is where an encode writes before it commits to dest.
func PartialPath(dest string) string {
	return filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+".partial")
}

// Cleanup removes dest and its partial file. Missing files are not an error, so
// calling it repeatedly is safe.
func Cleanup(dest string) error {
	var errs []error
	for _, p := range []string{PartialPath(dest), dest} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// commit publishes the finished partial file. Once the rename succeeds the artifact
// stands and later cancellation has no effect on it.
func commit(ctx context.Context, dest string, res model.Resolution, fps, frames int, container string) (*model.VideoArtifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelled(frames, dest, err)
	}
	if err := os.Rename(PartialPath(dest), dest); err != nil {
		return nil, ioError(frames, dest, err)
	}
	fi, err := os.Stat(dest)
	if err != nil {
		return nil, ioError(frames, dest, err)
	}
	return &model.VideoArtifact{
		Path:            dest,
		DurationSeconds: float64(frames) / float64(fps),
		Width:           res.Width,
		Height:          res.Height,
		FPS:             fps,
		ByteSize:        fi.Size(),
		Frames:          frames,
		Container:       container,
	}, nil
}

func prepareDestination(dest string) error {
	if dir := filepath.Dir(dest); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	// a stale partial from a crashed run must not leak into this one
	if err := os.Remove(PartialPath(dest)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func checkFrame(fb *model.FrameBuffer, res model.Resolution, written int, dest string) error {
	if fb.Image == nil {
		return &model.EncodeError{Kind: model.ErrFrameSizeMismatch, Frame: written, Path: dest, Err: fmt.Errorf("frame has no pixels")}
	}
	b := fb.Image.Bounds()
	if b.Dx() != res.Width || b.Dy() != res.Height {
		return &model.EncodeError{
			Kind:  model.ErrFrameSizeMismatch,
			Frame: written,
			Path:  dest,
			Err:   fmt.Errorf("got %dx%d, want %s", b.Dx(), b.Dy(), res),
		}
	}
	if fb.Index != written {
		return &model.EncodeError{
			Kind:  model.ErrEncodeIO,
			Frame: written,
			Path:  dest,
			Err:   fmt.Errorf("frame %d arrived out of order", fb.Index),
		}
	}
	return nil
}

func writeRawRGBA(w io.Writer, img *image.RGBA) error {
	bounds := img.Bounds()
	rgba := img
	if rgba.Stride != bounds.Dx()*4 || rgba.Rect.Min.X != 0 || rgba.Rect.Min.Y != 0 {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Rect, img, bounds.Min, draw.Src)
	}
	_, err := w.Write(rgba.Pix[:bounds.Dx()*bounds.Dy()*4])
	return err
}

func ioError(frame int, dest string, err error) error {
	return &model.EncodeError{Kind: model.ErrEncodeIO, Frame: frame, Path: dest, Err: err}
}

func cancelled(frame int, dest string, err error) error {
	return &model.EncodeError{Kind: model.ErrCancelled, Frame: frame, Path: dest, Err: err}
}
