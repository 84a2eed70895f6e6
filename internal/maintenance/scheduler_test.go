package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltyorg/cookieshop/internal/database"
	"github.com/saltyorg/cookieshop/internal/events"
	"github.com/saltyorg/cookieshop/internal/kvstore"
)

type fakeOptimizer struct {
	calls atomic.Int32
	err   error
	block chan struct{}
}

func (f *fakeOptimizer) Optimize(ctx context.Context) error {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func TestRunNow_RecordsStatus(t *testing.T) {
	opt := &fakeOptimizer{}
	s := NewScheduler(opt, Config{})

	require.NoError(t, s.RunNow(context.Background()))
	status := s.Status()
	assert.Equal(t, 1, status.Runs)
	require.NotNil(t, status.LastRun)
	assert.NotEmpty(t, status.LastDuration)
	assert.Empty(t, status.LastError)
	assert.False(t, status.IsOptimizing)

	opt.err = errors.New("disk full")
	err := s.RunNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, "disk full", s.Status().LastError)
	assert.Equal(t, int32(2), opt.calls.Load())
}

func TestRunNow_RejectsOverlap(t *testing.T) {
	opt := &fakeOptimizer{block: make(chan struct{})}
	s := NewScheduler(opt, Config{})

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background()) }()

	require.Eventually(t, func() bool { return s.Status().IsOptimizing }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.RunNow(context.Background()), ErrBusy)

	close(opt.block)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), opt.calls.Load())
}

func TestRunNow_PublishesEvent(t *testing.T) {
	broker := events.NewBroker()
	defer broker.Stop()
	client := broker.Subscribe()

	s := NewScheduler(&fakeOptimizer{}, Config{})
	s.SetBroker(broker)
	require.NoError(t, s.RunNow(context.Background()))

	select {
	case msg := <-client.Messages:
		assert.Equal(t, events.EventMaintenanceCompleted, msg.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}
}

func TestSchedule(t *testing.T) {
	opt := &fakeOptimizer{}
	s := NewScheduler(opt, Config{Enabled: true, Schedule: "@every 1s"})
	require.NoError(t, s.Start())
	defer s.Stop()

	status := s.Status()
	assert.True(t, status.Running)
	require.NotNil(t, status.NextRun)

	assert.Eventually(t, func() bool { return opt.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, s.UpdateConfig(Config{Enabled: false, Schedule: "@daily"}))
	assert.Nil(t, s.Status().NextRun)

	assert.Error(t, s.UpdateConfig(Config{Enabled: true, Schedule: "not a schedule"}))
	assert.Equal(t, "@daily", s.Config().Schedule)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestOptimizesManager(t *testing.T) {
	db, err := database.Open(database.Config{Kind: database.KindKV, KV: kvstore.NewMemoryStore()})
	require.NoError(t, err)
	defer db.Close()

	s := NewScheduler(db, DefaultConfig())
	require.NoError(t, s.RunNow(context.Background()))
	assert.Equal(t, 1, s.Status().Runs)
}
