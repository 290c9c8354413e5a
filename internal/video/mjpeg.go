package video

import (
	"bytes"
	"context"
	"image/jpeg"
	"io"

	"github.com/icza/mjpeg"

	"github.com/ivlev/photoseq/internal/model"
	"github.com/ivlev/photoseq/internal/system"
)

// MJPEGEncoder writes a Motion-JPEG AVI without external tools.
type MJPEGEncoder struct {
	Quality int // JPEG quality 1..100
}

func NewMJPEGEncoder(quality int) *MJPEGEncoder {
	if quality <= 0 || quality > 100 {
		quality = system.DefaultQuality("mjpeg")
	}
	return &MJPEGEncoder{Quality: quality}
}

func (e *MJPEGEncoder) Name() string {
	return "mjpeg"
}

func (e *MJPEGEncoder) Encode(ctx context.Context, frames FrameSource, res model.Resolution, fps int, dest string) (*model.VideoArtifact, error) {
	if err := prepareDestination(dest); err != nil {
		return nil, ioError(0, dest, err)
	}

	aw, err := mjpeg.New(PartialPath(dest), int32(res.Width), int32(res.Height), int32(fps))
	if err != nil {
		Cleanup(dest)
		return nil, ioError(0, dest, err)
	}

	abort := func(cause error) error {
		aw.Close()
		Cleanup(dest)
		return cause
	}

	var buf bytes.Buffer
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

		buf.Reset()
		err = jpeg.Encode(&buf, fb.Image, &jpeg.Options{Quality: e.Quality})
		fb.Release()
		if err != nil {
			return nil, abort(ioError(written, dest, err))
		}
		if err := aw.AddFrame(buf.Bytes()); err != nil {
			return nil, abort(ioError(written, dest, err))
		}
		written++
	}

	if err := aw.Close(); err != nil {
		Cleanup(dest)
		return nil, ioError(written, dest, err)
	}

	artifact, err := commit(ctx, dest, res, fps, written, "avi")
	if err != nil {
		Cleanup(dest)
		return nil, err
	}
	return artifact, nil
}
