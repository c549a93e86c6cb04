package decision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"whitelist-bot/internal/application"
	"whitelist-bot/internal/application/memstore"
	apperrors "whitelist-bot/internal/common/errors"
	"whitelist-bot/internal/common/logger"
	"whitelist-bot/internal/cooldown"
	"whitelist-bot/internal/messages"
	"whitelist-bot/internal/notify"
	"whitelist-bot/internal/platform/platformtest"
	"whitelist-bot/internal/relay"
	"whitelist-bot/internal/roles"
	"whitelist-bot/internal/ticket"
	"whitelist-bot/internal/ticketcache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// ==========================
// Test doubles
// ==========================

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Types() []notify.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notify.EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type recordingAlerter struct {
	mu    sync.Mutex
	count int
}

func (a *recordingAlerter) NotifySubmission(context.Context, *application.Application) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count++
	return nil
}

type recordingIndexer struct {
	mu   sync.Mutex
	docs map[string]*application.Application
}

func (i *recordingIndexer) Index(_ context.Context, app *application.Application) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.docs == nil {
		i.docs = make(map[string]*application.Application)
	}
	i.docs[app.CandidateID] = app
	return nil
}

var catalog = roles.Catalog{Candidate: "role-candidate", Whitelist: "role-wl", Blacklist: "role-bl"}

// flakyStore fails Get while failGet is set.
type flakyStore struct {
	*memstore.Store
	mu      sync.Mutex
	failGet bool
}

func (s *flakyStore) Get(ctx context.Context, candidateID string) (*application.Application, error) {
	s.mu.Lock()
	fail := s.failGet
	s.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset")
	}
	return s.Store.Get(ctx, candidateID)
}

// immediate runs scheduled deletions synchronously.
var immediate = relay.SchedulerFunc(func(_ time.Duration, f func()) { f() })

type fixture struct {
	clock     *clock
	store     *memstore.Store
	cache     *ticketcache.Memory
	platform  *platformtest.Fake
	publisher *recordingPublisher
	alerter   *recordingAlerter
	indexer   *recordingIndexer
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewTestLogger(t)
	f := &fixture{
		clock:     &clock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)},
		platform:  platformtest.New(),
		publisher: &recordingPublisher{},
		alerter:   &recordingAlerter{},
		indexer:   &recordingIndexer{},
	}
	f.store = memstore.New(memstore.WithClock(f.clock.Now))
	msgs := messages.NewBuilder("District", "staff").WithClock(f.clock.Now)
	f.cache = ticketcache.NewMemory()
	tickets := ticket.NewProvisioner(f.store, f.cache, f.platform, msgs, ticket.Config{CategoryID: "cat", StaffRoleID: "staff"}, log)

	f.svc = NewService(Dependencies{
		Store:     f.store,
		Gate:      cooldown.NewGate(f.store, cooldown.WithClock(f.clock.Now)),
		Tickets:   tickets,
		Closer:    relay.NewRouter(f.store, f.cache, tickets, f.platform, msgs, log, relay.WithScheduler(immediate)),
		Roles:     roles.NewSynchronizer(f.platform, log),
		Catalog:   catalog,
		Platform:  f.platform,
		Messages:  msgs,
		Publisher: f.publisher,
		Alerter:   f.alerter,
		Indexer:   f.indexer,
		Logger:    log,
	})
	return f
}

func submitRequest(id string) SubmitRequest {
	return SubmitRequest{
		CandidateID: id,
		DisplayName: "Rook",
		Score:       18,
		Fields: map[string]interface{}{
			application.FieldCharacterFirstName: "Jack",
			application.FieldBackstory:          "Grew up at the docks.",
		},
	}
}

func requireCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apperrors.CodeOf(err), err.Error())
}

// ==========================
// Scenarios
// ==========================

func TestSubmit_HappyPath(t *testing.T) {
	f := newFixture(t)
	f.platform.AddMember("A1")
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, submitRequest("A1"))
	require.NoError(t, err)
	assert.True(t, res.Report.StateChanged)
	assert.True(t, res.Report.OK(), res.Report.String())

	var names []string
	for _, e := range res.Report.Effects {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{
		EffectTicketCreate, EffectTicketIntro, EffectRoles, EffectConfirmationDM,
		EffectPublish, EffectStaffEmail, EffectSearchIndex,
	}, names)

	stored, err := f.store.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, application.StatusSubmitted, stored.Status(f.clock.Now()))
	require.NotEmpty(t, stored.TicketChannelID)
	assert.Equal(t, res.Application.TicketChannelID, stored.TicketChannelID)

	assert.Equal(t, 1, f.platform.CreatedCount())
	assert.Len(t, f.platform.ChannelMessages(stored.TicketChannelID), 1)
	assert.Len(t, f.platform.DirectMessages("A1"), 1)
	assert.True(t, f.platform.Roles("A1")[catalog.Candidate])
	assert.Equal(t, []notify.EventType{notify.EventSubmitted}, f.publisher.Types())
	assert.Equal(t, 1, f.alerter.count)
	assert.Contains(t, f.indexer.docs, "A1")
}

func TestSubmit_DuringCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	failedAt := f.clock.Now()

	until, err := f.svc.RecordFailure(ctx, FailureRequest{CandidateID: "A2", Score: 6})
	require.NoError(t, err)
	assert.Equal(t, failedAt.Add(48*time.Hour), until)

	f.clock.Advance(time.Hour)
	_, err = f.svc.Submit(ctx, submitRequest("A2"))
	requireCode(t, err, apperrors.ErrCodeCooldownActive)

	var se *apperrors.StandardError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, until, se.Metadata["cooldownUntil"])

	stored, err := f.store.Get(ctx, "A2")
	require.NoError(t, err)
	assert.False(t, stored.Submitted)
	assert.Nil(t, stored.FormFields)
	assert.Equal(t, 6, stored.Score)
	assert.Zero(t, f.platform.CreatedCount())

	status, err := f.svc.Status(ctx, "A2")
	require.NoError(t, err)
	assert.True(t, status.Cooldown)
	assert.Equal(t, application.StatusCooldownAfterFailure, status.Status)
	require.NotNil(t, status.CooldownUntil)
	assert.Equal(t, until, *status.CooldownUntil)

	// The window is half-open: submission is allowed exactly at its end.
	f.clock.Advance(47 * time.Hour)
	res, err := f.svc.Submit(ctx, submitRequest("A2"))
	require.NoError(t, err)
	assert.True(t, res.Report.StateChanged)
	assert.Nil(t, res.Application.CooldownUntil)
}

func TestRejectThenUnreject(t *testing.T) {
	f := newFixture(t)
	f.platform.AddMember("A3")
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, submitRequest("A3"))
	require.NoError(t, err)

	res, err := f.svc.Reject(ctx, RejectRequest{CandidateID: "A3", Approver: "mod#1", Reason: "spam"})
	require.NoError(t, err)
	assert.True(t, res.Report.OK(), res.Report.String())
	assert.Equal(t, application.StatusBlacklisted, res.Application.Status(f.clock.Now()))
	assert.Equal(t, "spam", res.Application.BlacklistReason)
	assert.True(t, f.platform.Roles("A3")[catalog.Blacklist])
	assert.False(t, f.platform.Roles("A3")[catalog.Candidate])

	dms := f.platform.DirectMessages("A3")
	require.Len(t, dms, 2)
	assert.Contains(t, dms[1].Embed.Description, "spam")

	res, err = f.svc.Unreject(ctx, UnrejectRequest{CandidateID: "A3"})
	require.NoError(t, err)
	assert.True(t, res.Report.StateChanged)
	assert.Equal(t, application.StatusNone, res.Application.Status(f.clock.Now()))
	assert.Empty(t, f.platform.Roles("A3"))

	assert.Equal(t, []notify.EventType{
		notify.EventSubmitted, notify.EventRejected, notify.EventUnrejected,
	}, f.publisher.Types())

	// A new cycle can start once the blacklist is lifted.
	_, err = f.svc.Submit(ctx, submitRequest("A3"))
	require.NoError(t, err)
	assert.Equal(t, 2, f.platform.CreatedCount())
}

func TestUnreject_TearsDownOpenTicket(t *testing.T) {
	f := newFixture(t)
	f.platform.AddMember("A3")
	ctx := context.Background()

	submitted, err := f.svc.Submit(ctx, submitRequest("A3"))
	require.NoError(t, err)
	first := submitted.Application.TicketChannelID
	require.NotEmpty(t, first)

	_, err = f.svc.Reject(ctx, RejectRequest{CandidateID: "A3", Approver: "mod#1", Reason: "spam"})
	require.NoError(t, err)

	res, err := f.svc.Unreject(ctx, UnrejectRequest{CandidateID: "A3", Actor: "admin-web"})
	require.NoError(t, err)
	assert.True(t, res.Report.OK(), res.Report.String())
	_, noticed := res.Report.Effect(relay.EffectNotice)
	assert.True(t, noticed)
	_, scheduled := res.Report.Effect(relay.EffectDeletionScheduled)
	assert.True(t, scheduled)

	// The record no longer holds a ticket once the cycle is over.
	stored, err := f.store.Get(ctx, "A3")
	require.NoError(t, err)
	assert.False(t, stored.Submitted)
	assert.Empty(t, stored.TicketChannelID)
	_, err = f.store.FindByTicketChannel(ctx, first)
	assert.ErrorIs(t, err, application.ErrNotFound)
	_, cached := f.cache.Get(ctx, "A3")
	assert.False(t, cached)

	assert.False(t, f.platform.HasChannel(first))
	assert.Equal(t, []string{first}, f.platform.DeletedSnapshot())

	next, err := f.svc.Submit(ctx, submitRequest("A3"))
	require.NoError(t, err)
	assert.NotEqual(t, first, next.Application.TicketChannelID)
	assert.True(t, f.platform.HasChannel(next.Application.TicketChannelID))
	assert.Equal(t, []string{first}, f.platform.DeletedSnapshot())
}

func TestUnreject_ReloadFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := logger.NewZapAdapter(zap.New(core))
	store := &flakyStore{Store: memstore.New()}
	fake := platformtest.New()
	msgs := messages.NewBuilder("District", "staff")

	svc := NewService(Dependencies{
		Store:    store,
		Tickets:  ticket.NewProvisioner(store, ticketcache.NewMemory(), fake, msgs, ticket.Config{CategoryID: "cat"}, log),
		Roles:    roles.NewSynchronizer(fake, log),
		Catalog:  catalog,
		Platform: fake,
		Messages: msgs,
		Logger:   log,
	})
	ctx := context.Background()

	_, err := svc.Submit(ctx, submitRequest("42"))
	require.NoError(t, err)

	store.mu.Lock()
	store.failGet = true
	store.mu.Unlock()

	res, err := svc.Unreject(ctx, UnrejectRequest{CandidateID: "42"})
	require.NoError(t, err)
	assert.False(t, res.Report.StateChanged)
	assert.Nil(t, res.Application)
	assert.Equal(t, 1, logs.FilterMessage("failed to reload application").Len())
}

// ==========================
// Submission guards
// ==========================

func TestSubmit_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	f.platform.AddMember("42")

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Submit(context.Background(), submitRequest("42"))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		requireCode(t, err, apperrors.ErrCodeDuplicateSubmission)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, f.platform.CreatedCount())
	assert.Len(t, f.platform.DirectMessages("42"), 1)
}

func TestSubmit_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Reject(ctx, RejectRequest{CandidateID: "banned"})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, submitRequest("banned"))
	requireCode(t, err, apperrors.ErrCodeCandidateBlacklisted)

	_, err = f.svc.Approve(ctx, ApproveRequest{CandidateID: "vip", Override: true})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, submitRequest("vip"))
	requireCode(t, err, apperrors.ErrCodeAlreadyProcessed)
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
	}{
		{"missing id", func(r *SubmitRequest) { r.CandidateID = "" }},
		{"bad id", func(r *SubmitRequest) { r.CandidateID = "12 34" }},
		{"missing display name", func(r *SubmitRequest) { r.DisplayName = "" }},
		{"negative score", func(r *SubmitRequest) { r.Score = -1 }},
		{"nested field", func(r *SubmitRequest) { r.Fields["backstory"] = map[string]interface{}{"a": 1} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := submitRequest("42")
			tt.mutate(&req)
			_, err := f.svc.Submit(context.Background(), req)
			requireCode(t, err, apperrors.ErrCodeValidationFailed)
		})
	}

	_, err := f.store.Get(context.Background(), "42")
	assert.ErrorIs(t, err, application.ErrNotFound)
}

func TestRecordFailure_WhileSubmitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, submitRequest("42"))
	require.NoError(t, err)

	_, err = f.svc.RecordFailure(ctx, FailureRequest{CandidateID: "42", Score: 3})
	requireCode(t, err, apperrors.ErrCodeDuplicateSubmission)

	stored, _ := f.store.Get(ctx, "42")
	assert.True(t, stored.Submitted)
	assert.Equal(t, 18, stored.Score)
}

// ==========================
// Staff decisions
// ==========================

func TestApprove_Strict(t *testing.T) {
	f := newFixture(t)
	f.platform.AddMember("42", catalog.Candidate)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, ApproveRequest{CandidateID: "42", Approver: "mod"})
	requireCode(t, err, apperrors.ErrCodeNotFound)

	_, err = f.svc.Submit(ctx, submitRequest("42"))
	require.NoError(t, err)

	res, err := f.svc.Approve(ctx, ApproveRequest{CandidateID: "42", Approver: "mod"})
	require.NoError(t, err)
	assert.True(t, res.Report.OK(), res.Report.String())
	assert.Equal(t, "mod", res.Application.WhitelistedBy)
	assert.Equal(t, map[string]bool{catalog.Whitelist: true}, f.platform.Roles("42"))

	_, err = f.svc.Approve(ctx, ApproveRequest{CandidateID: "42", Approver: "mod"})
	requireCode(t, err, apperrors.ErrCodeAlreadyProcessed)
}

func TestWhitelistAndBlacklistAreExclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, ApproveRequest{CandidateID: "42", Override: true})
	require.NoError(t, err)
	res, err := f.svc.Reject(ctx, RejectRequest{CandidateID: "42"})
	require.NoError(t, err)
	assert.True(t, res.Application.Blacklisted)
	assert.False(t, res.Application.Whitelisted)
	assert.Equal(t, DefaultRejectReason, res.Application.BlacklistReason)

	res, err = f.svc.Approve(ctx, ApproveRequest{CandidateID: "42", Override: true})
	require.NoError(t, err)
	assert.True(t, res.Application.Whitelisted)
	assert.False(t, res.Application.Blacklisted)
	assert.Empty(t, res.Application.BlacklistReason)
}

func TestUnreject_Edges(t *testing.T) {
	f := newFixture(t)
	f.platform.AddMember("42", catalog.Blacklist)
	ctx := context.Background()

	_, err := f.svc.Unreject(ctx, UnrejectRequest{CandidateID: "nobody"})
	requireCode(t, err, apperrors.ErrCodeNotFound)

	_, err = f.svc.Submit(ctx, submitRequest("42"))
	require.NoError(t, err)

	res, err := f.svc.Unreject(ctx, UnrejectRequest{CandidateID: "42"})
	require.NoError(t, err)
	assert.False(t, res.Report.StateChanged)
	assert.True(t, res.Application.Submitted)
	// Roles still converge even though the record was not blacklisted.
	assert.False(t, f.platform.Roles("42")[catalog.Blacklist])
}

// ==========================
// Partial failures
// ==========================

func TestSubmit_SideEffectFailuresAreIndependent(t *testing.T) {
	f := newFixture(t)
	f.platform.AddMember("42")
	f.platform.Fail(platformtest.OpSendDirect, errors.New("cannot send messages to this user"))
	f.publisher.err = errors.New("sns down")

	res, err := f.svc.Submit(context.Background(), submitRequest("42"))
	require.NoError(t, err)
	assert.True(t, res.Report.StateChanged)
	assert.Equal(t, []string{EffectConfirmationDM, EffectPublish}, res.Report.Failed())

	assert.Equal(t, 1, f.platform.CreatedCount())
	assert.True(t, f.platform.Roles("42")[catalog.Candidate])
	assert.Equal(t, 1, f.alerter.count)
}

func TestSubmit_TicketFailureSkipsIntro(t *testing.T) {
	f := newFixture(t)
	f.platform.AddMember("42")
	f.platform.Fail(platformtest.OpCreate, errors.New("missing access"))

	res, err := f.svc.Submit(context.Background(), submitRequest("42"))
	require.NoError(t, err)
	assert.Equal(t, []string{EffectTicketCreate, EffectTicketIntro}, res.Report.Failed())

	stored, _ := f.store.Get(context.Background(), "42")
	assert.True(t, stored.Submitted)
	assert.True(t, f.platform.Roles("42")[catalog.Candidate])
}

func TestSubmit_MemberNotInGuild(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Submit(context.Background(), submitRequest("42"))
	require.NoError(t, err)
	assert.Equal(t, []string{EffectRoles}, res.Report.Failed())

	e, ok := res.Report.Effect(EffectRoles)
	require.True(t, ok)
	assert.ErrorIs(t, e.Err, roles.ErrMemberUnresolved)
}

// ==========================
// Reads
// ==========================

func TestStatus_Unknown(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.Status(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, application.StatusNone, view.Status)
	assert.False(t, view.Cooldown || view.Submitted || view.Whitelisted || view.Blacklisted)

	_, err = f.svc.Status(context.Background(), "")
	requireCode(t, err, apperrors.ErrCodeValidationFailed)
}

func TestListAndMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, submitRequest("1"))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.Submit(ctx, submitRequest("2"))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, ApproveRequest{CandidateID: "1"})
	require.NoError(t, err)

	apps, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "2", apps[0].CandidateID)

	members, err := f.svc.Members(ctx)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "1", members[0].CandidateID)
	assert.Equal(t, "Jack", members[0].Character[application.FieldCharacterFirstName])
	assert.Equal(t, "Grew up at the docks.", members[0].Character[application.FieldBackstory])
}

func TestMemberCheck(t *testing.T) {
	f := newFixture(t)
	f.platform.AddMember("42")
	ctx := context.Background()

	_, err := f.svc.Reject(ctx, RejectRequest{CandidateID: "42", Reason: "cheating"})
	require.NoError(t, err)

	check, err := f.svc.MemberCheck(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, MemberCheck{IsMember: true, Blacklisted: true, BlacklistReason: "cheating"}, check)

	check, err = f.svc.MemberCheck(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, MemberCheck{}, check)

	f.platform.Fail(platformtest.OpMember, errors.New("gateway timeout"))
	_, err = f.svc.MemberCheck(ctx, "42")
	requireCode(t, err, apperrors.ErrCodePlatformUnavailable)
}
