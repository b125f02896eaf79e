package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	purged, closed time.Duration
	err            error
}

func (f *fakeSweeper) PurgeTrashed(_ context.Context, olderThan time.Duration) (int, error) {
	f.purged = olderThan
	return 3, f.err
}

func (f *fakeSweeper) CloseInactive(_ context.Context, olderThan time.Duration) (int, error) {
	f.closed = olderThan
	return 1, f.err
}

func TestSweepTasksCarryDurations(t *testing.T) {
	sweeper := &fakeSweeper{}
	h := NewHandlers(sweeper, zerolog.Nop())

	purge, err := NewPurgeTrashTask(48 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, TypePurgeTrash, purge.Type())
	require.NoError(t, h.HandlePurgeTrash(context.Background(), purge))
	assert.Equal(t, 48*time.Hour, sweeper.purged)

	closeTask, err := NewCloseInactiveTask(90 * time.Minute)
	require.NoError(t, err)
	require.NoError(t, h.HandleCloseInactive(context.Background(), closeTask))
	assert.Equal(t, 90*time.Minute, sweeper.closed)
}

func TestSweepRejectsBadPayload(t *testing.T) {
	h := NewHandlers(&fakeSweeper{}, zerolog.Nop())

	err := h.HandlePurgeTrash(context.Background(), asynq.NewTask(TypePurgeTrash, []byte("nope")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = h.HandleCloseInactive(context.Background(), asynq.NewTask(TypeCloseInactive, []byte(`{"older_than_seconds":0}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSweepPropagatesEngineFailure(t *testing.T) {
	boom := errors.New("store down")
	h := NewHandlers(&fakeSweeper{err: boom}, zerolog.Nop())

	task, err := NewPurgeTrashTask(time.Hour)
	require.NoError(t, err)
	assert.ErrorIs(t, h.HandlePurgeTrash(context.Background(), task), boom)
}

func TestRunnerRejectsBadRedisURL(t *testing.T) {
	_, err := NewRunner("not a url", NewHandlers(&fakeSweeper{}, zerolog.Nop()), Schedule{Spec: "@every 1m"}, zerolog.Nop())
	assert.Error(t, err)
}
