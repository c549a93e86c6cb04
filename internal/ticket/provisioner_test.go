package ticket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"whitelist-bot/internal/application"
	"whitelist-bot/internal/application/memstore"
	"whitelist-bot/internal/common/logger"
	"whitelist-bot/internal/messages"
	"whitelist-bot/internal/platform"
	"whitelist-bot/internal/platform/platformtest"
	"whitelist-bot/internal/ticketcache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *memstore.Store
	cache    *ticketcache.Memory
	platform *platformtest.Fake
	prov     *Provisioner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		cache:    ticketcache.NewMemory(),
		platform: platformtest.New(),
	}
	f.prov = NewProvisioner(f.store, f.cache, f.platform,
		messages.NewBuilder("District", "staff"),
		Config{CategoryID: "cat", StaffRoleID: "staff"},
		logger.NewTestLogger(t))
	return f
}

func (f *fixture) submit(t *testing.T, id string) *application.Application {
	t.Helper()
	app, err := f.store.Submit(context.Background(), application.Submission{
		CandidateID: id,
		Profile:     application.Profile{DisplayName: "Rook Black"},
		Score:       18,
	}, time.Now())
	require.NoError(t, err)
	return app
}

func TestEnsure_CreatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.submit(t, "1234567")

	first, err := f.prov.Ensure(ctx, app)
	require.NoError(t, err)
	assert.True(t, first.Created)

	require.Len(t, f.platform.Created, 1)
	spec := f.platform.Created[0]
	assert.Equal(t, "wl-rook-black-4567", spec.Name)
	assert.Equal(t, "cat", spec.CategoryID)
	assert.Equal(t, "staff", spec.StaffRoleID)

	stored, err := f.store.Get(ctx, "1234567")
	require.NoError(t, err)
	assert.Equal(t, first.ChannelID, stored.TicketChannelID)
	cached, ok := f.cache.Get(ctx, "1234567")
	require.True(t, ok)
	assert.Equal(t, first.ChannelID, cached)

	again, err := f.prov.Ensure(ctx, stored)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, first.ChannelID, again.ChannelID)
	assert.Equal(t, 1, f.platform.CreatedCount())
}

func TestEnsure_ConcurrentCallsCreateOneChannel(t *testing.T) {
	f := newFixture(t)
	app := f.submit(t, "42")

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tk, err := f.prov.Ensure(context.Background(), app)
			assert.NoError(t, err)
			ids[i] = tk.ChannelID
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.platform.CreatedCount())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestCandidateLocks_KeyedPerCandidate(t *testing.T) {
	var locks candidateLocks

	unlockA := locks.lock("a")

	otherDone := make(chan struct{})
	go func() {
		unlock := locks.lock("b")
		unlock()
		close(otherDone)
	}()
	select {
	case <-otherDone:
	case <-time.After(time.Second):
		t.Fatal("lock on another candidate blocked behind a held lock")
	}

	sameDone := make(chan struct{})
	go func() {
		unlock := locks.lock("a")
		unlock()
		close(sameDone)
	}()
	select {
	case <-sameDone:
		t.Fatal("second lock on the same candidate did not wait")
	case <-time.After(50 * time.Millisecond):
	}

	unlockA()
	select {
	case <-sameDone:
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
	assert.Equal(t, 0, locks.size())
}

func TestEnsure_CreateFailure(t *testing.T) {
	f := newFixture(t)
	app := f.submit(t, "42")
	f.platform.Fail(platformtest.OpCreate, errors.New("missing permissions"))

	_, err := f.prov.Ensure(context.Background(), app)
	require.Error(t, err)

	stored, err := f.store.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, stored.Submitted)
	assert.Empty(t, stored.TicketChannelID)
}

func TestLookup_FallsBackToStoreAndRecaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.submit(t, "42")
	tk, err := f.prov.Ensure(ctx, app)
	require.NoError(t, err)

	f.cache.Invalidate(ctx, "42")
	stored, _ := f.store.Get(ctx, "42")

	id, ok := f.prov.Lookup(ctx, stored)
	require.True(t, ok)
	assert.Equal(t, tk.ChannelID, id)
	cached, ok := f.cache.Get(ctx, "42")
	assert.True(t, ok)
	assert.Equal(t, tk.ChannelID, cached)
}

func TestLookup_StaleEntriesAreMisses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.submit(t, "42")
	tk, err := f.prov.Ensure(ctx, app)
	require.NoError(t, err)

	f.platform.RemoveChannel(tk.ChannelID)
	stored, _ := f.store.Get(ctx, "42")

	_, ok := f.prov.Lookup(ctx, stored)
	assert.False(t, ok)
	_, cached := f.cache.Get(ctx, "42")
	assert.False(t, cached)
}

func TestLookup_ClosedTicketIsMiss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.submit(t, "42")
	_, err := f.prov.Ensure(ctx, app)
	require.NoError(t, err)

	closed, err := f.store.CloseTicket(ctx, "42", "")
	require.NoError(t, err)
	f.cache.Invalidate(ctx, "42")

	_, ok := f.prov.Lookup(ctx, closed)
	assert.False(t, ok)
}

func TestPostIntro(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.submit(t, "42")
	tk, err := f.prov.Ensure(ctx, app)
	require.NoError(t, err)

	require.NoError(t, f.prov.PostIntro(ctx, tk, app))
	msgs := f.platform.ChannelMessages(tk.ChannelID)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Components, 1)
	assert.Equal(t, platform.CloseTicketID("42"), msgs[0].Components[0].CustomID)
}

func TestPostIntro_ChannelGoneInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.submit(t, "42")
	tk, err := f.prov.Ensure(ctx, app)
	require.NoError(t, err)
	f.platform.RemoveChannel(tk.ChannelID)

	err = f.prov.PostIntro(ctx, tk, app)
	assert.ErrorIs(t, err, platform.ErrNotFound)
	_, ok := f.cache.Get(ctx, "42")
	assert.False(t, ok)
}

func TestEnsure_NewCycleIgnoresPreviousTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.submit(t, "42")
	first, err := f.prov.Ensure(ctx, app)
	require.NoError(t, err)

	_, err = f.store.Blacklist(ctx, "42", application.Stamp{By: "mod", At: time.Now()}, "spam")
	require.NoError(t, err)
	_, released, err := f.store.Unblacklist(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, first.ChannelID, released)
	next := f.submit(t, "42")

	second, err := f.prov.Ensure(ctx, next)
	require.NoError(t, err)
	assert.True(t, second.Created)
	assert.NotEqual(t, first.ChannelID, second.ChannelID)
	cached, _ := f.cache.Get(ctx, "42")
	assert.Equal(t, second.ChannelID, cached)
}
