package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/SteelMorgan/mc-bridge/internal/domain"
	"github.com/SteelMorgan/mc-bridge/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Task is one periodic job. Ticks of the same task never overlap:
// the next tick starts only after the previous one returned.
type Task struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool
	// Timeout bounds a single tick; zero means no bound
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler runs independent tasks, each in its own goroutine
type Scheduler struct {
	tasks []Task
	wg    sync.WaitGroup
}

// NewScheduler creates a scheduler for tasks
func NewScheduler(tasks ...Task) *Scheduler {
	return &Scheduler{tasks: tasks}
}

// Start launches every task and returns immediately
func (s *Scheduler) Start(ctx context.Context) {
	for _, task := range s.tasks {
		if task.Interval <= 0 || task.Run == nil {
			log.Warn().Str("task", task.Name).Msg("Task has no interval or body, not scheduled")
			continue
		}

		s.wg.Add(1)
		go func(task Task) {
			defer s.wg.Done()
			s.loop(ctx, task)
		}(task)
	}
}

// Wait blocks until every task loop has exited
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	log.Info().
		Str("task", task.Name).
		Dur("interval", task.Interval).
		Msg("Starting periodic task")

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	if task.RunImmediately {
		RunOnce(ctx, task)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("task", task.Name).Msg("Periodic task stopped")
			return
		case <-ticker.C:
			RunOnce(ctx, task)
		}
	}
}

// RunOnce runs one tick of task. Errors and panics are logged and contained.
func RunOnce(ctx context.Context, task Task) (err error) {
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name, r)
			log.Error().
				Str("task", task.Name).
				Str("stack", string(debug.Stack())).
				Msg("Periodic task panicked")
		}
		observability.TickDuration.WithLabelValues(task.Name).Observe(time.Since(started).Seconds())
	}()

	err = task.Run(ctx)
	if err != nil {
		logTickError(task.Name, err)
	}
	return err
}

// logTickError picks a level by error kind. Expected skips stay at debug.
func logTickError(name string, err error) {
	var event *zerolog.Event
	switch {
	case errors.Is(err, domain.ErrNoPlayersOnline), errors.Is(err, domain.ErrDisabled):
		event = log.Debug()
	case errors.Is(err, domain.ErrNotConfigured), errors.Is(err, context.Canceled):
		event = log.Debug()
	case domain.IsTransport(err), errors.Is(err, domain.ErrTransferFailed):
		event = log.Warn()
	default:
		event = log.Error()
	}
	event.Err(err).Str("task", name).Msg("Periodic task tick failed")
}
