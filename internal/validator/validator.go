package validator

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/photoseq/internal/config"
	"github.com/ivlev/photoseq/internal/model"
	"github.com/ivlev/photoseq/internal/source"
)

// Validator turns raw references into a SequenceRequest, or explains why it cannot.
type Validator struct {
	Source  source.Source
	Workers int // Concurrent probes, 0 = NumCPU
}

func New(src source.Source) *Validator {
	return &Validator{Source: src}
}

// Validate checks options, the photo count bounds, readability of every reference
// and distinctness of the underlying images, in that order. Probing is the only I/O.
func (v *Validator) Validate(ctx context.Context, refs []string, opts config.Options) (*model.SequenceRequest, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if len(refs) < opts.MinPhotos || len(refs) > opts.MaxPhotos {
		return nil, &model.ValidationError{
			Kind:  model.ErrCountOutOfRange,
			Index: -1,
			Err:   countError{got: len(refs), min: opts.MinPhotos, max: opts.MaxPhotos},
		}
	}

	infos, errs, err := v.probeAll(ctx, refs)
	if err != nil {
		return nil, &model.OrchestrationError{Kind: model.ErrCancelled, Err: err}
	}
	for i, perr := range errs {
		if perr != nil {
			return nil, &model.ValidationError{Kind: model.ErrUnreadableInput, Index: i, Ref: refs[i], Err: perr}
		}
	}

	seen := make(map[string]int, len(refs))
	photos := make([]model.PhotoRef, len(refs))
	for i, info := range infos {
		if first, dup := seen[info.Identity]; dup {
			return nil, &model.ValidationError{
				Kind:  model.ErrDuplicateInput,
				Index: i,
				Ref:   refs[i],
				Err:   duplicateError{first: first, ref: refs[first]},
			}
		}
		seen[info.Identity] = i
		photos[i] = model.PhotoRef{
			Ref:      refs[i],
			Identity: info.Identity,
			Format:   info.Format,
			Width:    info.Width,
			Height:   info.Height,
			Index:    i,
		}
	}

	transition := opts.Transition
	if transition == "" {
		transition = config.DefaultTransition
	}

	return &model.SequenceRequest{
		Photos:            photos,
		Resolution:        opts.Resolution,
		FPS:               opts.FPS,
		HoldSeconds:       opts.HoldSeconds,
		TransitionSeconds: opts.TransitionSeconds,
		Transition:        transition,
		Background:        opts.Background,
	}, nil
}

// probeAll probes every ref with bounded concurrency. Per-ref failures are collected
// by index so the lowest failing position is reported regardless of scheduling.
func (v *Validator) probeAll(ctx context.Context, refs []string) ([]source.Info, []error, error) {
	infos := make([]source.Info, len(refs))
	errs := make([]error, len(refs))

	workers := v.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, ref := range refs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			infos[i], errs[i] = v.Source.Probe(ref)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return infos, errs, nil
}
