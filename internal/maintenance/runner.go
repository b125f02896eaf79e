package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Schedule lists the periodic sweeps. A zero duration disables that sweep.
type Schedule struct {
	Spec            string
	TrashRetention  time.Duration
	InactiveTimeout time.Duration
}

// Runner hosts the asynq worker and the scheduler that enqueues sweeps.
type Runner struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	log       zerolog.Logger
}

func NewRunner(redisURL string, handlers *Handlers, schedule Schedule, log zerolog.Logger) (*Runner, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("maintenance: parse REDIS_URL: %w", err)
	}

	qlog := asynqLogger{log: log.With().Str("component", "asynq").Logger()}
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: 2,
		Queues:      map[string]int{"default": 1},
		Logger:      qlog,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Warn().Err(err).Str("task", task.Type()).Msg("maintenance task failed")
		}),
	})
	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Logger: qlog, Location: time.UTC})

	mux := asynq.NewServeMux()
	handlers.Register(mux)

	if schedule.TrashRetention > 0 {
		task, err := NewPurgeTrashTask(schedule.TrashRetention)
		if err != nil {
			return nil, err
		}
		if _, err := scheduler.Register(schedule.Spec, task); err != nil {
			return nil, fmt.Errorf("maintenance: schedule %s: %w", TypePurgeTrash, err)
		}
	}
	if schedule.InactiveTimeout > 0 {
		task, err := NewCloseInactiveTask(schedule.InactiveTimeout)
		if err != nil {
			return nil, err
		}
		if _, err := scheduler.Register(schedule.Spec, task); err != nil {
			return nil, fmt.Errorf("maintenance: schedule %s: %w", TypeCloseInactive, err)
		}
	}

	return &Runner{server: server, scheduler: scheduler, mux: mux, log: log}, nil
}

// Run starts the worker and scheduler and blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.server.Start(r.mux); err != nil {
		return fmt.Errorf("maintenance: start worker: %w", err)
	}
	if err := r.scheduler.Start(); err != nil {
		r.server.Shutdown()
		return fmt.Errorf("maintenance: start scheduler: %w", err)
	}
	r.log.Info().Msg("maintenance runner started")

	<-ctx.Done()
	r.scheduler.Shutdown()
	r.server.Shutdown()
	return nil
}

type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
