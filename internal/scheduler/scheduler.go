/*
Package scheduler runs named periodic tasks, each on its own ticker. A failing or panicking
run is logged and recorded; it never stops its own task or any other.
*/
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/elys-network/lpadvisor/internal/logger"
	"github.com/elys-network/lpadvisor/internal/metrics"
)

var schedLogger = logger.GetForComponent("scheduler")

var (
	ErrDuplicateTask  = errors.New("task already registered")
	ErrInvalidTask    = errors.New("invalid task")
	ErrAlreadyStarted = errors.New("scheduler already started")
)

// Task is a unit of periodic work.
type Task struct {
	Name     string
	Interval time.Duration
	// RunImmediately runs the task once at start instead of waiting a full interval.
	RunImmediately bool
	Run            func(ctx context.Context) error
}

type Scheduler struct {
	metrics *metrics.Metrics

	mu      sync.Mutex
	tasks   []Task
	names   map[string]struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New(m *metrics.Metrics) *Scheduler {
	return &Scheduler{metrics: m, names: make(map[string]struct{})}
}

// Register adds a task. Tasks cannot be added after Start.
func (s *Scheduler) Register(task Task) error {
	if task.Name == "" || task.Interval <= 0 || task.Run == nil {
		return fmt.Errorf("%w: %q needs a name, a positive interval and a run function", ErrInvalidTask, task.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if _, ok := s.names[task.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.Name)
	}
	s.names[task.Name] = struct{}{}
	s.tasks = append(s.tasks, task)
	return nil
}

// Tasks returns the registered task names in registration order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		names[i] = t.Name
	}
	return names
}

// Start launches every task. It returns immediately; call Stop to end them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, task)
	}
	schedLogger.Info().Int("tasks", len(s.tasks)).Msg("Scheduler started")
	return nil
}

// Stop cancels all tasks and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	schedLogger.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	defer s.wg.Done()
	taskLogger := schedLogger.With().Str("task", task.Name).Logger()
	taskLogger.Info().Dur("interval", task.Interval).Msg("Starting task loop")

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	if task.RunImmediately {
		s.RunOnce(ctx, task)
	}
	for {
		select {
		case <-ctx.Done():
			taskLogger.Info().Msg("Task loop stopped due to context cancellation")
			return
		case <-ticker.C:
			s.RunOnce(ctx, task)
		}
	}
}

// RunOnce executes one run of task in isolation and returns its error, if any.
func (s *Scheduler) RunOnce(ctx context.Context, task Task) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name, r)
			schedLogger.Error().
				Str("task", task.Name).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Recovered panic in scheduled task")
		}
		s.metrics.RecordTask(task.Name, time.Since(start), err)
		if err != nil && !errors.Is(err, context.Canceled) {
			schedLogger.Error().Err(err).Str("task", task.Name).Msg("Scheduled task failed")
		}
	}()
	return task.Run(ctx)
}
