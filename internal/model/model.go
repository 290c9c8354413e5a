package model

import (
	"fmt"
	"image"
	"sync"
)

// Resolution is an output frame size in pixels.
type Resolution struct {
	Width  int `yaml:"width" toml:"width"`
	Height int `yaml:"height" toml:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Rect returns the frame rectangle anchored at the origin.
func (r Resolution) Rect() image.Rectangle {
	return image.Rect(0, 0, r.Width, r.Height)
}

// PhotoRef is a validated reference to one source image.
type PhotoRef struct {
	Ref      string `yaml:"ref"`      // Reference as supplied by the caller
	Identity string `yaml:"identity"` // Content digest used for duplicate detection
	Format   string `yaml:"format"`   // Sniffed container format (png, jpg, pdf, ...)
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	Index    int    `yaml:"index"` // Position in the user-chosen sequence
}

// SequenceRequest is the validated input of a compile. It is never mutated after
// validation.
type SequenceRequest struct {
	Photos            []PhotoRef
	Resolution        Resolution
	FPS               int
	HoldSeconds       float64
	TransitionSeconds float64
	Transition        string
	Background        string
}

// TimelineSegment is the frame range owned by one photo. Hold frames occupy
// [StartFrame, StartFrame+FrameCount); the transition to the next photo follows
// immediately and lasts TransitionOutFrames.
type TimelineSegment struct {
	Photo               PhotoRef `yaml:"photo"`
	StartFrame          int      `yaml:"start_frame"`
	FrameCount          int      `yaml:"frame_count"`
	TransitionOutFrames int      `yaml:"transition_out_frames"`
}

// EndFrame is the first frame index after the segment's hold and outgoing transition.
func (s TimelineSegment) EndFrame() int {
	return s.StartFrame + s.FrameCount + s.TransitionOutFrames
}

// Timeline is the deterministic frame plan of a SequenceRequest.
type Timeline struct {
	Version     string            `yaml:"version"`
	Resolution  Resolution        `yaml:"resolution"`
	FPS         int               `yaml:"fps"`
	Transition  string            `yaml:"transition"`
	Background  string            `yaml:"background"`
	TotalFrames int               `yaml:"total_frames"`
	Segments    []TimelineSegment `yaml:"segments"`
}

// DurationSeconds is the playback length of the timeline.
func (t Timeline) DurationSeconds() float64 {
	if t.FPS <= 0 {
		return 0
	}
	return float64(t.TotalFrames) / float64(t.FPS)
}

// FrameBuffer is one composed output frame. Ownership moves with the value: after
// handing a FrameBuffer to an encoder the producer must not touch Image again, and
// the consumer calls Release once the pixels have been written.
type FrameBuffer struct {
	Index int
	Image *image.RGBA

	once    sync.Once
	release func(*image.RGBA)
}

// NewFrameBuffer wraps img. release, if non-nil, is called at most once by Release.
func NewFrameBuffer(index int, img *image.RGBA, release func(*image.RGBA)) *FrameBuffer {
	return &FrameBuffer{Index: index, Image: img, release: release}
}

// Release returns the pixel buffer to its owner. Safe to call more than once.
func (f *FrameBuffer) Release() {
	if f == nil {
		return
	}
	f.once.Do(func() {
		if f.release != nil && f.Image != nil {
			f.release(f.Image)
		}
		f.Image = nil
	})
}

// VideoArtifact describes a finished encode. The file at Path belongs to the caller.
type VideoArtifact struct {
	Path            string  `json:"path" yaml:"path"`
	DurationSeconds float64 `json:"duration_seconds" yaml:"duration_seconds"`
	Width           int     `json:"width" yaml:"width"`
	Height          int     `json:"height" yaml:"height"`
	FPS             int     `json:"fps" yaml:"fps"`
	ByteSize        int64   `json:"byte_size" yaml:"byte_size"`
	Frames          int     `json:"frames" yaml:"frames"`
	Container       string  `json:"container" yaml:"container"`
}
