// Package engine запускает задачи сборки: проверка выбора, план таймлайна,
// затем потоковая передача кадров в энкодер в фоновой горутине.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"

	"github.com/ivlev/photoseq/internal/compositor"
	"github.com/ivlev/photoseq/internal/config"
	"github.com/ivlev/photoseq/internal/model"
	"github.com/ivlev/photoseq/internal/planner"
	"github.com/ivlev/photoseq/internal/source"
	"github.com/ivlev/photoseq/internal/system"
	"github.com/ivlev/photoseq/internal/validator"
	"github.com/ivlev/photoseq/internal/video"
)

// Compiler собирает видео из выбранных фото, по одной задаче за раз.
type Compiler struct {
	Source source.Source
	// Encoder, если задан, заменяет выбор энкодера по настройкам
	Encoder video.VideoEncoder
	// Logger получает строки о ходе задачи. nil означает log.Default()
	Logger *log.Logger

	pool *system.ImagePool

	mu     sync.Mutex
	active *Job
	// Пути, которые упавшая задача не смогла очистить, с ошибкой очистки
	dirty map[string]error
}

func NewCompiler(src source.Source) *Compiler {
	return &Compiler{
		Source: src,
		Logger: log.Default(),
		pool:   system.NewImagePool(),
		dirty:  make(map[string]error),
	}
}

// Compile запускает задачу для refs. Занятость компилятора и конфликт пути
// возвращаются сразу, без задачи. Проверка и планирование тоже выполняются до
// возврата: при ошибке задача уже в состоянии Failed и возвращается вместе с ошибкой.
// Иначе задача в состоянии Compositing и продолжается в фоне. Отмена ctx отменяет ее.
func (c *Compiler) Compile(ctx context.Context, refs []string, opts config.Options) (*Job, error) {
	dest := opts.DestinationPath
	if dest != "" {
		if abs, err := filepath.Abs(dest); err == nil {
			dest = abs
		}
	}

	// Отмена должна работать с момента, когда задачу видно через Active
	jctx, cancel := context.WithCancel(ctx)
	job := newJob(dest)
	job.cancel = cancel

	c.mu.Lock()
	if c.active != nil {
		active := c.active
		c.mu.Unlock()
		cancel()
		return nil, &model.OrchestrationError{Kind: model.ErrBusy, Path: dest, Err: fmt.Errorf("job %s is %s", active.ID, active.State())}
	}
	if cause, ok := c.dirty[dest]; ok {
		c.mu.Unlock()
		cancel()
		return nil, &model.OrchestrationError{Kind: model.ErrDestinationBusy, Path: dest, Err: cause}
	}
	c.active = job
	c.mu.Unlock()

	opts.DestinationPath = dest
	comp, enc, err := c.prepare(jctx, job, refs, opts)
	if err != nil {
		cancel()
		c.release(job, Failed, nil, err)
		return job, err
	}

	c.logf("[*] Задача %s: фото %d -> %s", job.ID, len(job.Timeline().Segments), dest)
	c.logf("[*] Разрешение: %s @ %d FPS | Кадров: %d (%.2fs) | Переход: %s | Энкодер: %s",
		opts.Resolution, opts.FPS, comp.Total(), job.Timeline().DurationSeconds(), opts.Transition, enc.Name())

	job.enter(Compositing)
	go c.run(jctx, cancel, job, comp, enc, opts.ShowStats)
	return job, nil
}

// prepare выполняет этапы Validating и Planning
func (c *Compiler) prepare(ctx context.Context, job *Job, refs []string, opts config.Options) (*compositor.Compositor, video.VideoEncoder, error) {
	job.enter(Validating)
	v := validator.New(c.Source)
	v.Workers = opts.Workers
	req, err := v.Validate(ctx, refs, opts)
	if err != nil {
		return nil, nil, err
	}

	job.enter(Planning)
	tl := planner.Plan(*req)
	job.mu.Lock()
	job.timeline = tl
	job.mu.Unlock()
	job.total.Store(int64(tl.TotalFrames))

	enc := c.Encoder
	if enc == nil {
		enc, err = video.NewEncoder(opts.Encoder, opts.Quality)
		if err != nil {
			return nil, nil, &model.ValidationError{Kind: model.ErrInvalidOptions, Index: -1, Err: err}
		}
	}

	comp, err := compositor.New(tl, c.Source, c.pool)
	if err != nil {
		return nil, nil, &model.ValidationError{Kind: model.ErrInvalidOptions, Index: -1, Err: err}
	}
	comp.OnFrame = job.frameProduced
	return comp, enc, nil
}

func (c *Compiler) run(ctx context.Context, cancel context.CancelFunc, job *Job, comp *compositor.Compositor, enc video.VideoEncoder, showStats bool) {
	defer cancel()

	frames := &stagedSource{comp: comp, onEOF: func() { job.enter(Encoding) }}
	artifact, err := enc.Encode(ctx, frames, job.Timeline().Resolution, job.Timeline().FPS, job.Destination)
	comp.Close()

	if err != nil {
		state := Failed
		if model.IsCancelled(err) {
			state = Cancelled
			c.logf("[!] Задача %s отменена на кадре %d/%d", job.ID, comp.Produced(), comp.Total())
		} else {
			c.logf("[!] Ошибка задачи %s: %v", job.ID, err)
		}
		if cerr := video.Cleanup(job.Destination); cerr != nil {
			c.logf("[!] Не удалось удалить незавершенный файл %s: %v", job.Destination, cerr)
			c.mu.Lock()
			c.dirty[job.Destination] = cerr
			c.mu.Unlock()
		}
		c.release(job, state, nil, err)
		return
	}

	c.logf("[+++] Задача %s готова: %s (%.2fs, кадров: %d, %.1f MiB)",
		job.ID, artifact.Path, artifact.DurationSeconds, artifact.Frames, system.MiB(uint64(artifact.ByteSize)))
	if showStats {
		c.report(job, artifact)
	}
	c.release(job, Succeeded, artifact, nil)
}

// release освобождает компилятор до пробуждения ожидающих: получив Done,
// вызывающий может сразу запустить следующую задачу.
func (c *Compiler) release(job *Job, state State, artifact *model.VideoArtifact, err error) {
	c.mu.Lock()
	if c.active == job {
		c.active = nil
	}
	c.mu.Unlock()
	job.finish(state, artifact, err)
}

// Active возвращает текущую задачу или nil
func (c *Compiler) Active() *Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Cleanup повторно удаляет результат и частичный файл по пути, который прошлая
// задача не смогла очистить. После успеха путь снова доступен.
func (c *Compiler) Cleanup(dest string) error {
	if abs, err := filepath.Abs(dest); err == nil {
		dest = abs
	}
	c.mu.Lock()
	if c.active != nil && c.active.Destination == dest {
		c.mu.Unlock()
		return &model.OrchestrationError{Kind: model.ErrBusy, Path: dest, Err: errors.New("destination is being written")}
	}
	c.mu.Unlock()

	if err := video.Cleanup(dest); err != nil {
		return &model.OrchestrationError{Kind: model.ErrDestinationBusy, Path: dest, Err: err}
	}
	c.mu.Lock()
	delete(c.dirty, dest)
	c.mu.Unlock()
	return nil
}

func (c *Compiler) report(job *Job, artifact *model.VideoArtifact) {
	total := job.since(Pending)
	validate := job.between(Validating, Planning)
	composite := job.between(Compositing, Encoding)
	encode := job.since(Encoding)
	fps := 0.0
	if total > 0 {
		fps = float64(artifact.Frames) / total.Seconds()
	}
	snap := system.TakeSnapshot()

	c.logf("--- [PERFORMANCE REPORT] ---")
	c.logf("Total Time: %.2fs", total.Seconds())
	c.logf("Validation: %.2fs", validate.Seconds())
	c.logf("Compositing (frames streamed to encoder): %.2fs", composite.Seconds())
	c.logf("Encoding (finalize + commit): %.2fs", encode.Seconds())
	c.logf("Effective FPS: %.2f", fps)
	c.logf("CPUs: %d | RSS: %.1f MiB | Host free: %.0f/%.0f MiB | Goroutines: %d",
		snap.LogicalCPUs, system.MiB(snap.ProcessRSS), system.MiB(snap.HostAvailBytes), system.MiB(snap.HostTotalBytes), snap.Goroutines)
	c.logf("----------------------------")
}

func (c *Compiler) logf(format string, args ...any) {
	if c.Logger == nil {
		log.Printf(format, args...)
		return
	}
	c.Logger.Printf(format, args...)
}

// stagedSource отдает кадры энкодеру и замечает конец кадров: здесь Compositing
// сменяется на Encoding (финализация и муксинг).
type stagedSource struct {
	comp  *compositor.Compositor
	onEOF func()
	once  sync.Once
}

func (s *stagedSource) Next(ctx context.Context) (*model.FrameBuffer, error) {
	fb, err := s.comp.Next(ctx)
	if errors.Is(err, io.EOF) {
		s.once.Do(s.onEOF)
	}
	return fb, err
}

var _ video.FrameSource = (*stagedSource)(nil)
