package maintenance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	TypePurgeTrash    = "chat:purge_trash"
	TypeCloseInactive = "chat:close_inactive"
)

// Sweeper is the engine side of the periodic jobs.
type Sweeper interface {
	PurgeTrashed(ctx context.Context, olderThan time.Duration) (int, error)
	CloseInactive(ctx context.Context, olderThan time.Duration) (int, error)
}

type sweepPayload struct {
	OlderThanSeconds int64 `json:"older_than_seconds"`
}

// NewPurgeTrashTask schedules removal of conversations trashed longer than retention.
func NewPurgeTrashTask(retention time.Duration) (*asynq.Task, error) {
	return newSweepTask(TypePurgeTrash, retention)
}

// NewCloseInactiveTask schedules closing of unanswered pending conversations.
func NewCloseInactiveTask(timeout time.Duration) (*asynq.Task, error) {
	return newSweepTask(TypeCloseInactive, timeout)
}

func newSweepTask(taskType string, olderThan time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(sweepPayload{OlderThanSeconds: int64(olderThan / time.Second)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, payload, asynq.MaxRetry(1), asynq.Unique(time.Minute)), nil
}

// Handlers runs sweep tasks against the engine.
type Handlers struct {
	sweeper Sweeper
	log     zerolog.Logger
}

// NewHandlers builds the task handlers over the engine's sweeps.
func NewHandlers(sweeper Sweeper, log zerolog.Logger) *Handlers {
	return &Handlers{sweeper: sweeper, log: log.With().Str("component", "maintenance").Logger()}
}

// Register wires the task types into mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypePurgeTrash, h.HandlePurgeTrash)
	mux.HandleFunc(TypeCloseInactive, h.HandleCloseInactive)
}

func (h *Handlers) HandlePurgeTrash(ctx context.Context, t *asynq.Task) error {
	return h.sweep(ctx, t, h.sweeper.PurgeTrashed)
}

func (h *Handlers) HandleCloseInactive(ctx context.Context, t *asynq.Task) error {
	return h.sweep(ctx, t, h.sweeper.CloseInactive)
}

func (h *Handlers) sweep(ctx context.Context, t *asynq.Task, run func(context.Context, time.Duration) (int, error)) error {
	var p sweepPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if p.OlderThanSeconds <= 0 {
		return fmt.Errorf("%s: older_than_seconds must be positive: %w", t.Type(), asynq.SkipRetry)
	}

	n, err := run(ctx, time.Duration(p.OlderThanSeconds)*time.Second)
	if err != nil {
		h.log.Error().Err(err).Str("task", t.Type()).Int("affected", n).Msg("sweep failed")
		return err
	}
	if n > 0 {
		h.log.Info().Str("task", t.Type()).Int("affected", n).Msg("sweep done")
	}
	return nil
}
