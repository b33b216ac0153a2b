package sync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskcache/internal/model"
	"github.com/nhle/taskcache/internal/source"
	"github.com/nhle/taskcache/internal/sync"
	"github.com/nhle/taskcache/internal/testutil"
)

func nextResult(t *testing.T, p *sync.Poller) sync.PollResult {
	t.Helper()
	select {
	case r := <-p.Results():
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a poll result")
		return sync.PollResult{}
	}
}

func TestPollerSyncsOnStartAndTrigger(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.fetcher.full = []model.Item{testutil.NewItem("A")}

	p := sync.NewPoller(f.orch, time.Hour, testutil.DiscardLogger())
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	first := nextResult(t, p)
	require.NoError(t, first.Error)
	assert.Equal(t, sync.ModeFull, first.Result.Mode)

	f.fetcher.set(func(ff *fakeFetcher) { ff.delta = []model.Item{testutil.NewItem("B")} })
	p.Trigger()

	second := nextResult(t, p)
	require.NoError(t, second.Error)
	assert.Equal(t, sync.ModeIncremental, second.Result.Mode)
	assert.Equal(t, 2, second.Result.ItemCount)

	status := p.Status()
	assert.NoError(t, status.Error)
	assert.False(t, status.LastSync.IsZero())
}

func TestPollerReportsAuthErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.fetcher.err = &source.AuthError{SourceType: source.SourceTypeJira, Message: "expired"}

	p := sync.NewPoller(f.orch, time.Hour, testutil.DiscardLogger())
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	r := nextResult(t, p)
	require.Error(t, r.Error)
	assert.True(t, r.AuthExpired)
	assert.Contains(t, r.Message, "jira")
	assert.Nil(t, r.Result)
	assert.Error(t, p.Status().Error)
}

func TestPollerStopsWithContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	p := sync.NewPoller(f.orch, time.Hour, testutil.DiscardLogger())
	p.Start(ctx)
	nextResult(t, p)

	cancel()
	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the context was cancelled")
	}
}
