package txmanager_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/heldtx/heldtx/internal/clock"
	"github.com/heldtx/heldtx/internal/config"
	"github.com/heldtx/heldtx/internal/dbtx"
	"github.com/heldtx/heldtx/internal/eventbus"
	"github.com/heldtx/heldtx/internal/heldtx"
	"github.com/heldtx/heldtx/internal/txerrors"
	"github.com/heldtx/heldtx/internal/txmanager"
)

func setupManagerTestEnv(t *testing.T) dbtx.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("heldtx_test"),
		tcmysql.WithUsername("heldtx"),
		tcmysql.WithPassword("heldtx"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "parseTime=true")
	require.NoError(t, err)

	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.PingContext(ctx))

	return dbtx.OpenWithDB(db)
}

// recordingPublisher captures every event published, for assertions.
type recordingPublisher struct {
	events []eventbus.LifecycleEvent
}

func (r *recordingPublisher) Publish(_ context.Context, ev eventbus.LifecycleEvent) {
	r.events = append(r.events, ev)
}

func TestManager_CreateClampsTimeoutToMax(t *testing.T) {
	pool := setupManagerTestEnv(t)
	cfg := config.Config{MaxConcurrent: 10, DefaultTimeoutSeconds: 30, MaxTimeoutSeconds: 60, ReaperIntervalSeconds: 5}
	mgr := txmanager.New(cfg, pool, clock.System{}, &recordingPublisher{})

	requested := 600
	view, err := mgr.Create(context.Background(), &requested)
	require.NoError(t, err)
	require.Equal(t, 60, view.TimeoutSeconds)

	require.NoError(t, mgr.Rollback(context.Background(), view.ID))
}

func TestManager_CreateUsesDefaultTimeoutWhenOmitted(t *testing.T) {
	pool := setupManagerTestEnv(t)
	cfg := config.Config{MaxConcurrent: 10, DefaultTimeoutSeconds: 30, MaxTimeoutSeconds: 60, ReaperIntervalSeconds: 5}
	mgr := txmanager.New(cfg, pool, clock.System{}, &recordingPublisher{})

	view, err := mgr.Create(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 30, view.TimeoutSeconds)

	require.NoError(t, mgr.Rollback(context.Background(), view.ID))
}

func TestManager_CreateRejectsOverConcurrencyLimit(t *testing.T) {
	pool := setupManagerTestEnv(t)
	cfg := config.Config{MaxConcurrent: 1, DefaultTimeoutSeconds: 30, MaxTimeoutSeconds: 60, ReaperIntervalSeconds: 5}
	mgr := txmanager.New(cfg, pool, clock.System{}, &recordingPublisher{})

	view, err := mgr.Create(context.Background(), nil)
	require.NoError(t, err)

	_, err = mgr.Create(context.Background(), nil)
	require.Error(t, err)
	var limitErr *txerrors.ConcurrencyLimitError
	require.ErrorAs(t, err, &limitErr)

	require.NoError(t, mgr.Rollback(context.Background(), view.ID))

	// Slot freed, a new held transaction can now be created.
	view2, err := mgr.Create(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Rollback(context.Background(), view2.ID))
}

func TestManager_FindUnknownIDIsNotFound(t *testing.T) {
	pool := setupManagerTestEnv(t)
	cfg := config.Default()
	mgr := txmanager.New(cfg, pool, clock.System{}, &recordingPublisher{})

	_, err := mgr.Find("does-not-exist")
	require.Error(t, err)
	var notFound *txerrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestManager_CommitPublishesLifecycleEvents(t *testing.T) {
	pool := setupManagerTestEnv(t)
	cfg := config.Default()
	pub := &recordingPublisher{}
	mgr := txmanager.New(cfg, pool, clock.System{}, pub)

	view, err := mgr.Create(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Commit(context.Background(), view.ID))

	require.Len(t, pub.events, 2)
	require.Equal(t, eventbus.EventCreated, pub.events[0].Event)
	require.Equal(t, eventbus.EventCommitted, pub.events[1].Event)
	require.Equal(t, string(heldtx.StateCommitted), pub.events[1].State)

	_, err = mgr.Find(view.ID)
	require.Error(t, err)
}

func TestManager_ReaperRollsBackExpiredTransactions(t *testing.T) {
	pool := setupManagerTestEnv(t)
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := config.Config{MaxConcurrent: 10, DefaultTimeoutSeconds: 1, MaxTimeoutSeconds: 60, ReaperIntervalSeconds: 1}
	pub := &recordingPublisher{}
	mgr := txmanager.New(cfg, pool, fake, pub)

	view, err := mgr.Create(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, mgr.ActiveCount())

	fake.Advance(2 * time.Second)
	mgr.StartReaper()
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })

	require.Eventually(t, func() bool {
		_, err := mgr.Find(view.ID)
		return err != nil
	}, 5*time.Second, 50*time.Millisecond)
}
