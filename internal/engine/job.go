package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ivlev/photoseq/internal/model"
)

// State is a compile job's position in its lifecycle. States only move forward.
type State int

const (
	Pending State = iota
	Validating
	Planning
	Compositing
	Encoding
	Succeeded
	Failed
	Cancelled
)

var stateNames = [...]string{"pending", "validating", "planning", "compositing", "encoding", "succeeded", "failed", "cancelled"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s >= Succeeded
}

// Progress is a snapshot of a job's frame counters.
type Progress struct {
	State          State
	FramesProduced int
	FramesTotal    int
}

// ProgressInterval is the minimum spacing of non-final updates on Job.Updates.
const ProgressInterval = 100 * time.Millisecond

// Job is the handle of one compile. All methods are safe for concurrent use.
type Job struct {
	ID          uuid.UUID
	Destination string

	mu       sync.Mutex
	state    State
	history  []State
	entered  map[State]time.Time
	artifact *model.VideoArtifact
	err      error
	timeline model.Timeline

	produced atomic.Int64
	total    atomic.Int64

	cancel  context.CancelFunc
	done    chan struct{}
	pubMu   sync.Mutex
	closed  bool
	updates chan Progress
	limiter *rate.Limiter
}

func newJob(dest string) *Job {
	now := time.Now()
	return &Job{
		ID:          uuid.New(),
		Destination: dest,
		state:       Pending,
		history:     []State{Pending},
		entered:     map[State]time.Time{Pending: now},
		cancel:      func() {},
		done:        make(chan struct{}),
		updates:     make(chan Progress, 16),
		limiter:     rate.NewLimiter(rate.Every(ProgressInterval), 1),
	}
}

// State returns the current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// History lists every state the job has entered, in order.
func (j *Job) History() []State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]State(nil), j.history...)
}

// Progress can be read at any time; counters are meaningful from Compositing on.
func (j *Job) Progress() Progress {
	return Progress{
		State:          j.State(),
		FramesProduced: int(j.produced.Load()),
		FramesTotal:    int(j.total.Load()),
	}
}

// Timeline is the plan the job renders. Empty until Planning finished.
func (j *Job) Timeline() model.Timeline {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.timeline
}

// Updates delivers paced progress snapshots and a final snapshot in the terminal
// state, then closes. Slow readers miss intermediate updates, never the final one.
func (j *Job) Updates() <-chan Progress {
	return j.updates
}

// Cancel requests cooperative cancellation. It is idempotent and a no-op once the
// artifact has been committed.
func (j *Job) Cancel() {
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	cancel()
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result returns the terminal outcome without blocking. done is false while the
// job runs.
func (j *Job) Result() (artifact *model.VideoArtifact, done bool, err error) {
	select {
	case <-j.done:
	default:
		return nil, false, nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.artifact, true, j.err
}

// Wait blocks until the job finishes or ctx is done. Giving up waiting does not
// cancel the job.
func (j *Job) Wait(ctx context.Context) (*model.VideoArtifact, error) {
	select {
	case <-j.done:
		artifact, _, err := j.Result()
		return artifact, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// enter moves the job forward. Backwards or repeated moves are ignored.
func (j *Job) enter(s State) bool {
	j.mu.Lock()
	if j.state.Terminal() || s <= j.state {
		j.mu.Unlock()
		return false
	}
	j.state = s
	j.history = append(j.history, s)
	j.entered[s] = time.Now()
	j.mu.Unlock()

	j.publish(true)
	return true
}

func (j *Job) frameProduced(n int) {
	j.produced.Store(int64(n))
	j.publish(false)
}

func (j *Job) publish(force bool) {
	if !force && !j.limiter.Allow() {
		return
	}
	j.pubMu.Lock()
	defer j.pubMu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.updates <- j.Progress():
	default:
	}
}

// finish records the outcome and releases waiters. Only the first call has effect.
func (j *Job) finish(s State, artifact *model.VideoArtifact, err error) {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return
	}
	j.state = s
	j.history = append(j.history, s)
	j.entered[s] = time.Now()
	j.artifact = artifact
	j.err = err
	j.cancel = func() {}
	j.mu.Unlock()

	final := j.Progress()
	j.pubMu.Lock()
	defer j.pubMu.Unlock()
	// make room so the terminal snapshot is never dropped
	for {
		select {
		case j.updates <- final:
			j.closed = true
			close(j.updates)
			close(j.done)
			return
		default:
		}
		select {
		case <-j.updates:
		default:
		}
	}
}

// Elapsed is the wall time from creation to the terminal state, or to now while
// the job runs.
func (j *Job) Elapsed() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	start := j.entered[Pending]
	if j.state.Terminal() {
		return j.entered[j.state].Sub(start)
	}
	return time.Since(start)
}

func (j *Job) since(s State) time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	t, ok := j.entered[s]
	if !ok {
		return 0
	}
	return time.Since(t)
}

func (j *Job) between(from, to State) time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	a, okA := j.entered[from]
	b, okB := j.entered[to]
	if !okA || !okB {
		return 0
	}
	return b.Sub(a)
}
