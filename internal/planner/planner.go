// Package planner turns a validated SequenceRequest into a frame-exact Timeline.
package planner

import (
	"math"

	"github.com/ivlev/photoseq/internal/model"
)

const TimelineVersion = "1.0"

// Plan is a pure function of req. Every photo keeps its full hold; transitions are
// inserted between holds rather than overlapping them, so the total frame count is
// n*holdFrames + (n-1)*transitionFrames.
func Plan(req model.SequenceRequest) model.Timeline {
	hold := HoldFrames(req)
	trans := TransitionFrames(req)
	n := len(req.Photos)

	tl := model.Timeline{
		Version:    TimelineVersion,
		Resolution: req.Resolution,
		FPS:        req.FPS,
		Transition: req.Transition,
		Background: req.Background,
	}
	if n == 0 {
		return tl
	}

	tl.Segments = make([]model.TimelineSegment, n)
	start := 0
	for i, photo := range req.Photos {
		out := trans
		if i == n-1 {
			out = 0
		}
		tl.Segments[i] = model.TimelineSegment{
			Photo:               photo,
			StartFrame:          start,
			FrameCount:          hold,
			TransitionOutFrames: out,
		}
		start += hold + out
	}
	tl.TotalFrames = start
	return tl
}

// HoldFrames is round(holdSeconds * fps).
func HoldFrames(req model.SequenceRequest) int {
	return int(math.Round(req.HoldSeconds * float64(req.FPS)))
}

// TransitionFrames is round(transitionSeconds * fps), or 0 for the "none" transition.
func TransitionFrames(req model.SequenceRequest) int {
	if req.Transition == "none" || req.TransitionSeconds <= 0 {
		return 0
	}
	return int(math.Round(req.TransitionSeconds * float64(req.FPS)))
}

// TotalFrames is the closed form of Plan(req).TotalFrames.
func TotalFrames(req model.SequenceRequest) int {
	n := len(req.Photos)
	if n == 0 {
		return 0
	}
	return n*HoldFrames(req) + (n-1)*TransitionFrames(req)
}

// FrameKind tells what a frame index shows.
type FrameKind int

const (
	HoldFrame FrameKind = iota
	TransitionFrame
)

// FramePosition locates one output frame inside the timeline.
type FramePosition struct {
	Segment int       // Index of the segment owning the frame
	Kind    FrameKind // Hold or outgoing transition
	Offset  int       // Frame offset within the hold or the transition window
	T       float64   // Incoming weight for transition frames, in [0,1)
}

// Locate maps an output frame index to its position. ok is false outside the timeline.
func Locate(tl model.Timeline, frame int) (FramePosition, bool) {
	if frame < 0 || frame >= tl.TotalFrames {
		return FramePosition{}, false
	}

	// Segments are sorted by StartFrame; binary search keeps this O(log n).
	lo, hi := 0, len(tl.Segments)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if tl.Segments[mid].StartFrame <= frame {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	seg := tl.Segments[lo]
	rel := frame - seg.StartFrame
	if rel < seg.FrameCount {
		return FramePosition{Segment: lo, Kind: HoldFrame, Offset: rel}, true
	}
	off := rel - seg.FrameCount
	return FramePosition{
		Segment: lo,
		Kind:    TransitionFrame,
		Offset:  off,
		T:       float64(off) / float64(seg.TransitionOutFrames),
	}, true
}
