package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/photoseq/internal/config"
	"github.com/ivlev/photoseq/internal/model"
	"github.com/ivlev/photoseq/internal/source"
	"github.com/ivlev/photoseq/internal/testutil"
	"github.com/ivlev/photoseq/internal/video"
)

// countingEncoder drains frames without compressing them and writes a small
// summary file as the artifact.
type countingEncoder struct{}

func (countingEncoder) Name() string { return "counting" }

func (countingEncoder) Encode(ctx context.Context, frames video.FrameSource, res model.Resolution, fps int, dest string) (*model.VideoArtifact, error) {
	n := 0
	for {
		fb, err := frames.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		b := fb.Image.Bounds()
		fb.Release()
		if b.Dx() != res.Width || b.Dy() != res.Height {
			return nil, &model.EncodeError{Kind: model.ErrFrameSizeMismatch, Frame: n, Path: dest}
		}
		n++
	}
	data := []byte(fmt.Sprintf("%d frames %s @ %d\n", n, res, fps))
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return nil, &model.EncodeError{Kind: model.ErrEncodeIO, Frame: n, Path: dest, Err: err}
	}
	return &model.VideoArtifact{
		Path:            dest,
		DurationSeconds: float64(n) / float64(fps),
		Width:           res.Width,
		Height:          res.Height,
		FPS:             fps,
		ByteSize:        int64(len(data)),
		Frames:          n,
		Container:       "txt",
	}, nil
}

// hookEncoder calls hook once, right after frame number at has been pulled.
type hookEncoder struct {
	inner video.VideoEncoder
	at    int
	hook  func()
}

func (e *hookEncoder) Name() string { return e.inner.Name() }

func (e *hookEncoder) Encode(ctx context.Context, frames video.FrameSource, res model.Resolution, fps int, dest string) (*model.VideoArtifact, error) {
	return e.inner.Encode(ctx, &hookSource{FrameSource: frames, at: e.at, hook: e.hook}, res, fps, dest)
}

type hookSource struct {
	video.FrameSource
	at     int
	pulled int
	hook   func()
}

func (s *hookSource) Next(ctx context.Context) (*model.FrameBuffer, error) {
	fb, err := s.FrameSource.Next(ctx)
	if err == nil {
		s.pulled++
		if s.pulled == s.at {
			s.hook()
		}
	}
	return fb, err
}

func smallOptions(dest string) config.Options {
	opts := config.DefaultOptions()
	opts.Resolution = model.Resolution{Width: 64, Height: 36}
	opts.DestinationPath = dest
	opts.Encoder = "mjpeg"
	return opts
}

func quietCompiler() *Compiler {
	c := NewCompiler(source.NewFileSource())
	c.Logger = log.New(io.Discard, "", 0)
	return c
}

func waitJob(t *testing.T, job *Job) (*model.VideoArtifact, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	artifact, err := job.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "job did not finish")
	return artifact, err
}

func assertNoOutput(t *testing.T, dest string) {
	t.Helper()
	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, video.PartialPath(dest))
}

func TestCompileDefaultTimeline(t *testing.T) {
	dir := t.TempDir()
	paths := testutil.WritePhotos(t, dir, 10, 1920, 1080)
	dest := filepath.Join(dir, "video.txt")

	c := quietCompiler()
	c.Encoder = countingEncoder{}
	opts := config.DefaultOptions()
	opts.DestinationPath = dest

	job, err := c.Compile(context.Background(), paths, opts)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 735, job.Timeline().TotalFrames)

	artifact, err := waitJob(t, job)
	require.NoError(t, err)
	assert.Equal(t, 735, artifact.Frames)
	assert.InDelta(t, 24.5, artifact.DurationSeconds, 1e-9)
	assert.Equal(t, 1920, artifact.Width)
	assert.Equal(t, 1080, artifact.Height)
	assert.Equal(t, 30, artifact.FPS)
	assert.FileExists(t, dest)

	assert.Equal(t, Succeeded, job.State())
	assert.Equal(t, []State{Pending, Validating, Planning, Compositing, Encoding, Succeeded}, job.History())
	p := job.Progress()
	assert.Equal(t, 735, p.FramesProduced)
	assert.Equal(t, 735, p.FramesTotal)
	assert.Nil(t, c.Active())
}

func TestCompileMJPEG(t *testing.T) {
	dir := t.TempDir()
	paths := testutil.WritePhotos(t, dir, 10, 80, 60)
	dest := filepath.Join(dir, "video.avi")

	var logs bytes.Buffer
	c := quietCompiler()
	c.Logger = log.New(&logs, "", 0)
	opts := smallOptions(dest)
	opts.ShowStats = true
	job, err := c.Compile(context.Background(), paths, opts)
	require.NoError(t, err)

	var updates []Progress
	for p := range job.Updates() {
		updates = append(updates, p)
	}
	artifact, err := waitJob(t, job)
	require.NoError(t, err)

	assert.Equal(t, "avi", artifact.Container)
	assert.Equal(t, 735, artifact.Frames)
	assert.InDelta(t, 24.5, artifact.DurationSeconds, 1e-9)
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), artifact.ByteSize)
	assert.NoFileExists(t, video.PartialPath(dest))

	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, Succeeded, last.State)
	assert.Equal(t, 735, last.FramesProduced)
	for i := 1; i < len(updates); i++ {
		assert.GreaterOrEqual(t, updates[i].FramesProduced, updates[i-1].FramesProduced)
		assert.GreaterOrEqual(t, updates[i].State, updates[i-1].State)
	}
	assert.Contains(t, logs.String(), "PERFORMANCE REPORT")
	assert.Contains(t, logs.String(), "Compositing (frames streamed to encoder): ")
	assert.Contains(t, logs.String(), "Encoding (finalize + commit): ")
	assert.Contains(t, logs.String(), job.ID.String())
}

func TestCompileDuplicateNeverComposites(t *testing.T) {
	dir := t.TempDir()
	paths := testutil.WritePhotos(t, dir, 10, 32, 24)
	refs := append(paths, paths[3])
	dest := filepath.Join(dir, "video.avi")

	c := quietCompiler()
	job, err := c.Compile(context.Background(), refs, smallOptions(dest))
	require.Error(t, err)
	require.NotNil(t, job)
	assert.ErrorIs(t, err, model.ErrDuplicateInput)
	assert.True(t, model.IsSelectionError(err))

	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 10, verr.Index)

	assert.Equal(t, Failed, job.State())
	assert.NotContains(t, job.History(), Compositing)
	_, done, jerr := job.Result()
	assert.True(t, done)
	assert.Equal(t, err, jerr)
	assertNoOutput(t, dest)
	assert.Nil(t, c.Active())
}

func TestCompileCountOutOfRange(t *testing.T) {
	dir := t.TempDir()
	paths := testutil.WritePhotos(t, dir, 9, 32, 24)

	job, err := quietCompiler().Compile(context.Background(), paths, smallOptions(filepath.Join(dir, "v.avi")))
	assert.ErrorIs(t, err, model.ErrCountOutOfRange)
	assert.Equal(t, Failed, job.State())
}

func TestCompileCancelMidCompositing(t *testing.T) {
	dir := t.TempDir()
	paths := testutil.WritePhotos(t, dir, 10, 80, 60)
	dest := filepath.Join(dir, "video.avi")

	jobs := make(chan *Job, 1)
	c := quietCompiler()
	c.Encoder = &hookEncoder{
		inner: video.NewMJPEGEncoder(0),
		at:    20,
		hook:  func() { (<-jobs).Cancel() },
	}

	job, err := c.Compile(context.Background(), paths, smallOptions(dest))
	require.NoError(t, err)
	jobs <- job

	_, err = waitJob(t, job)
	require.Error(t, err)
	assert.True(t, model.IsCancelled(err))
	assert.Equal(t, Cancelled, job.State())
	assert.Equal(t, 20, job.Progress().FramesProduced)
	assertNoOutput(t, dest)

	job.Cancel() // no-op once terminal
	assert.Equal(t, Cancelled, job.State())
}

func TestCompileCallerContextCancels(t *testing.T) {
	dir := t.TempDir()
	paths := testutil.WritePhotos(t, dir, 10, 32, 24)
	dest := filepath.Join(dir, "video.avi")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := quietCompiler()
	c.Encoder = &hookEncoder{inner: video.NewMJPEGEncoder(0), at: 5, hook: cancel}

	job, err := c.Compile(ctx, paths, smallOptions(dest))
	require.NoError(t, err)
	_, err = waitJob(t, job)
	assert.ErrorIs(t, err, model.ErrCancelled)
	assert.Equal(t, Cancelled, job.State())
	assertNoOutput(t, dest)
}

func TestCompileCancelledWhileValidating(t *testing.T) {
	dir := t.TempDir()
	paths := testutil.WritePhotos(t, dir, 10, 32, 24)
	dest := filepath.Join(dir, "video.avi")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job, err := quietCompiler().Compile(ctx, paths, smallOptions(dest))
	require.Error(t, err)
	require.NotNil(t, job)
	assert.True(t, model.IsCancelled(err))
	assert.False(t, model.IsSelectionError(err))
	var oerr *model.OrchestrationError
	assert.ErrorAs(t, err, &oerr)

	assert.Equal(t, Failed, job.State())
	assert.NotContains(t, job.History(), Compositing)
	assertNoOutput(t, dest)
}

// gatedSource holds the first probe until release is closed.
type gatedSource struct {
	source.Source
	probing chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedSource) Probe(ref string) (source.Info, error) {
	s.once.Do(func() {
		close(s.probing)
		<-s.release
	})
	return s.Source.Probe(ref)
}

func TestCancelThroughActiveDuringValidation(t *testing.T) {
	dir := t.TempDir()
	paths := testutil.WritePhotos(t, dir, 10, 32, 24)
	dest := filepath.Join(dir, "video.avi")

	gs := &gatedSource{Source: source.NewFileSource(), probing: make(chan struct{}), release: make(chan struct{})}
	c := quietCompiler()
	c.Source = gs
	opts := smallOptions(dest)
	opts.Workers = 1

	type outcome struct {
		job *Job
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		job, err := c.Compile(context.Background(), paths, opts)
		done <- outcome{job, err}
	}()

	<-gs.probing
	active := c.Active()
	require.NotNil(t, active)
	assert.Equal(t, Validating, active.State())
	active.Cancel()
	close(gs.release)

	got := <-done
	require.Error(t, got.err)
	assert.Same(t, active, got.job)
	assert.True(t, model.IsCancelled(got.err))
	assert.Equal(t, Failed, got.job.State())
	assertNoOutput(t, dest)
}

func TestCompileBusy(t *testing.T) {
	dir := t.TempDir()
	paths := testutil.WritePhotos(t, dir, 10, 32, 24)

	started := make(chan struct{})
	resume := make(chan struct{})
	c := quietCompiler()
	c.Encoder = &hookEncoder{
		inner: countingEncoder{},
		at:    1,
		hook: func() {
			close(started)
			<-resume
		},
	}

	first, err := c.Compile(context.Background(), paths, smallOptions(filepath.Join(dir, "a.txt")))
	require.NoError(t, err)
	<-started

	second, err := c.Compile(context.Background(), paths, smallOptions(filepath.Join(dir, "b.txt")))
	assert.Nil(t, second)
	assert.ErrorIs(t, err, model.ErrBusy)
	var oerr *model.OrchestrationError
	assert.ErrorAs(t, err, &oerr)
	assert.False(t, model.IsSelectionError(err))
	assert.Equal(t, Compositing, first.State())

	close(resume)
	artifact, err := waitJob(t, first)
	require.NoError(t, err)
	assert.Equal(t, 735, artifact.Frames)

	// released before Done fired
	c.Encoder = countingEncoder{}
	third, err := c.Compile(context.Background(), paths, smallOptions(filepath.Join(dir, "c.txt")))
	require.NoError(t, err)
	_, err = waitJob(t, third)
	assert.NoError(t, err)
}

func TestCompileDecodeFailure(t *testing.T) {
	dir := t.TempDir()
	paths := testutil.WritePhotos(t, dir, 10, 32, 24)
	dest := filepath.Join(dir, "video.avi")

	c := quietCompiler()
	c.Encoder = &hookEncoder{
		inner: video.NewMJPEGEncoder(0),
		at:    1,
		hook:  func() { assert.NoError(t, os.Remove(paths[5])) },
	}

	job, err := c.Compile(context.Background(), paths, smallOptions(dest))
	require.NoError(t, err)
	_, err = waitJob(t, job)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrDecode)
	var cerr *model.CompositionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 5, cerr.Index)
	assert.Equal(t, Failed, job.State())
	assertNoOutput(t, dest)
}

func TestCompileEncodeFailure(t *testing.T) {
	dir := t.TempDir()
	paths := testutil.WritePhotos(t, dir, 10, 32, 24)
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	dest := filepath.Join(blocker, "video.avi")

	job, err := quietCompiler().Compile(context.Background(), paths, smallOptions(dest))
	require.NoError(t, err)
	_, err = waitJob(t, job)
	assert.ErrorIs(t, err, model.ErrEncodeIO)
	assert.Equal(t, Failed, job.State())
	assertNoOutput(t, dest)
}

func TestCompileDestinationBusyAfterFailedCleanup(t *testing.T) {
	dir := t.TempDir()
	paths := testutil.WritePhotos(t, dir, 10, 32, 24)
	// A non-empty directory at the destination defeats both the commit rename
	// and the cleanup.
	dest := filepath.Join(dir, "video.avi")
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "keep"), 0755))

	c := quietCompiler()
	job, err := c.Compile(context.Background(), paths, smallOptions(dest))
	require.NoError(t, err)
	_, err = waitJob(t, job)
	assert.ErrorIs(t, err, model.ErrEncodeIO)
	assert.NoFileExists(t, video.PartialPath(dest))

	again, err := c.Compile(context.Background(), paths, smallOptions(dest))
	assert.Nil(t, again)
	assert.ErrorIs(t, err, model.ErrDestinationBusy)

	assert.ErrorIs(t, c.Cleanup(dest), model.ErrDestinationBusy)

	require.NoError(t, os.Remove(filepath.Join(dest, "keep")))
	require.NoError(t, c.Cleanup(dest))
	_, err = os.Stat(dest)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	again, err = c.Compile(context.Background(), paths, smallOptions(dest))
	require.NoError(t, err)
	_, err = waitJob(t, again)
	assert.NoError(t, err)
	assert.FileExists(t, dest)
}

func TestCleanupUnknownDestination(t *testing.T) {
	c := quietCompiler()
	assert.NoError(t, c.Cleanup(filepath.Join(t.TempDir(), "nothing.mp4")))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "compositing", Compositing.String())
	assert.Equal(t, "cancelled", Cancelled.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.False(t, Encoding.Terminal())
	assert.True(t, Failed.Terminal())
}

func TestJobForwardOnly(t *testing.T) {
	job := newJob("x")
	assert.True(t, job.enter(Validating))
	assert.True(t, job.enter(Compositing))
	assert.False(t, job.enter(Planning))
	job.finish(Succeeded, &model.VideoArtifact{}, nil)
	job.finish(Failed, nil, errors.New("late"))
	assert.False(t, job.enter(Encoding))

	artifact, ok, err := job.Result()
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.NotNil(t, artifact)
	assert.Equal(t, Succeeded, job.State())

	var last Progress
	for p := range job.Updates() {
		last = p
	}
	assert.Equal(t, Succeeded, last.State)
}

func TestJobWaitGivesUp(t *testing.T) {
	job := newJob("x")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := job.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, ok, _ := job.Result()
	assert.False(t, ok)
}
