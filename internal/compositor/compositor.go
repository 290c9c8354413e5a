// Package compositor produces the output frames of a timeline one at a time.
//
// A Compositor is a pull iterator: the consumer asks for the next frame and only
// then is it rendered, so at most one emitted frame is alive besides the two
// composed segment images the compositor caches.
package compositor

import (
	"context"
	"image"
	"image/color"
	"io"
	"math"

	"golang.org/x/image/draw"

	"github.com/ivlev/photoseq/internal/config"
	"github.com/ivlev/photoseq/internal/effects"
	"github.com/ivlev/photoseq/internal/model"
	"github.com/ivlev/photoseq/internal/planner"
	"github.com/ivlev/photoseq/internal/source"
	"github.com/ivlev/photoseq/internal/system"
)

// Compositor walks a timeline in frame order. It is single use and not safe for
// concurrent calls.
type Compositor struct {
	// OnFrame, if set, is called after each frame is emitted with the count so far.
	OnFrame func(produced int)
	// Scaler resamples photos into the frame. Defaults to Catmull-Rom.
	Scaler draw.Scaler

	timeline   model.Timeline
	src        source.Source
	pool       *system.ImagePool
	transition effects.Transition
	background color.RGBA
	rect       image.Rectangle

	next   int
	closed bool

	// Composed segment images. cur belongs to curSeg; in is the incoming segment
	// during a transition and becomes cur when its hold starts.
	cur, in       *image.RGBA
	curSeg, inSeg int
}

// New prepares a compositor for tl. Nothing is decoded until the first Next.
func New(tl model.Timeline, src source.Source, pool *system.ImagePool) (*Compositor, error) {
	tr, err := effects.New(tl.Transition)
	if err != nil {
		return nil, err
	}
	bg, err := config.ParseColor(tl.Background)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = system.NewImagePool()
	}
	return &Compositor{
		Scaler:     draw.CatmullRom,
		timeline:   tl,
		src:        src,
		pool:       pool,
		transition: tr,
		background: bg,
		rect:       tl.Resolution.Rect(),
		curSeg:     -1,
		inSeg:      -1,
	}, nil
}

// Total is the number of frames the compositor will emit.
func (c *Compositor) Total() int {
	return c.timeline.TotalFrames
}

// Produced is the number of frames emitted so far.
func (c *Compositor) Produced() int {
	return c.next
}

// Next renders the next frame. It returns io.EOF after the last frame or after
// Close. Cancellation of ctx is checked before any work on a frame and again before
// the frame is handed out, so a cancelled compile never emits a partial frame.
// The caller owns the returned buffer and must Release it.
func (c *Compositor) Next(ctx context.Context) (*model.FrameBuffer, error) {
	if c.closed || c.next >= c.timeline.TotalFrames {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, c.cancelled(err)
	}

	pos, ok := planner.Locate(c.timeline, c.next)
	if !ok {
		return nil, io.EOF
	}

	if err := c.load(pos.Segment); err != nil {
		return nil, err
	}

	frame := c.pool.Get(c.rect)
	switch pos.Kind {
	case planner.HoldFrame:
		copy(frame.Pix, c.cur.Pix)
	case planner.TransitionFrame:
		if err := c.loadIncoming(pos.Segment + 1); err != nil {
			c.pool.Put(frame)
			return nil, err
		}
		c.transition.Blend(frame, c.cur, c.in, pos.T)
	}

	if err := ctx.Err(); err != nil {
		c.pool.Put(frame)
		return nil, c.cancelled(err)
	}

	index := c.next
	c.next++
	if c.OnFrame != nil {
		c.OnFrame(c.next)
	}
	return model.NewFrameBuffer(index, frame, c.pool.Put), nil
}

// Close drops the cached segment images. Safe to call more than once.
func (c *Compositor) Close() error {
	c.closed = true
	c.pool.Put(c.cur)
	c.pool.Put(c.in)
	c.cur, c.in = nil, nil
	c.curSeg, c.inSeg = -1, -1
	return nil
}

// load makes seg the current segment. Images are cached for one segment only: the
// previous segment's image is returned to the pool as soon as its successor starts.
func (c *Compositor) load(seg int) error {
	if c.curSeg == seg {
		return nil
	}

	if c.inSeg == seg {
		c.pool.Put(c.cur)
		c.cur, c.in = c.in, nil
		c.curSeg, c.inSeg = seg, -1
		return nil
	}

	img, err := c.compose(seg)
	if err != nil {
		return err
	}
	c.pool.Put(c.cur)
	c.cur, c.curSeg = img, seg
	return nil
}

func (c *Compositor) loadIncoming(seg int) error {
	if c.inSeg == seg {
		return nil
	}
	img, err := c.compose(seg)
	if err != nil {
		return err
	}
	c.pool.Put(c.in)
	c.in, c.inSeg = img, seg
	return nil
}

// compose decodes the segment's photo and fits it into a pooled frame.
func (c *Compositor) compose(seg int) (*image.RGBA, error) {
	photo := c.timeline.Segments[seg].Photo

	src, err := c.src.Decode(photo.Ref)
	if err != nil {
		return nil, &model.CompositionError{Kind: model.ErrDecode, Index: photo.Index, Ref: photo.Ref, Err: err}
	}

	dst := c.pool.Get(c.rect)
	Letterbox(dst, src, c.background, c.Scaler)
	return dst, nil
}

func (c *Compositor) cancelled(cause error) error {
	return &model.CompositionError{Kind: model.ErrCancelled, Index: c.next, Err: cause}
}

// FitRect returns the largest rectangle with src's aspect ratio centred in frame.
func FitRect(frame image.Rectangle, srcW, srcH int) image.Rectangle {
	fw, fh := frame.Dx(), frame.Dy()
	if srcW <= 0 || srcH <= 0 {
		return image.Rectangle{}
	}

	scale := math.Min(float64(fw)/float64(srcW), float64(fh)/float64(srcH))
	w := int(math.Round(float64(srcW) * scale))
	h := int(math.Round(float64(srcH) * scale))
	if w > fw {
		w = fw
	}
	if h > fh {
		h = fh
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	x := frame.Min.X + (fw-w)/2
	y := frame.Min.Y + (fh-h)/2
	return image.Rect(x, y, x+w, y+h)
}

// Letterbox paints bg over dst and draws src scaled to fit, preserving its aspect
// ratio. Bars end up left/right (pillarbox) or top/bottom (letterbox).
func Letterbox(dst *image.RGBA, src image.Image, bg color.RGBA, scaler draw.Scaler) {
	draw.Draw(dst, dst.Rect, &image.Uniform{C: bg}, image.Point{}, draw.Src)

	sb := src.Bounds()
	dr := FitRect(dst.Rect, sb.Dx(), sb.Dy())
	if dr.Empty() {
		return
	}
	if dr.Dx() == sb.Dx() && dr.Dy() == sb.Dy() {
		draw.Draw(dst, dr, src, sb.Min, draw.Over)
		return
	}
	if scaler == nil {
		scaler = draw.CatmullRom
	}
	scaler.Scale(dst, dr, src, sb, draw.Over, nil)
}
