package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/repository/memory"
	"github.com/ignite/fan-automation/internal/service/identity"
	"github.com/ignite/fan-automation/internal/service/suppression"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeDeliverer struct {
	mu    sync.Mutex
	sent  []string
	calls int32
	fail  int // fail the next N sends
	err   error
}

func (d *fakeDeliverer) Send(_ context.Context, recipientID, actionType string, _ map[string]string) error {
	atomic.AddInt32(&d.calls, 1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if d.fail > 0 {
		d.fail--
		return &domain.DeliveryFailure{Provider: "fake", Err: errors.New("provider timeout")}
	}
	d.sent = append(d.sent, recipientID+"/"+actionType)
	return nil
}

type fakeQueue struct {
	mu     sync.Mutex
	pushed map[string]time.Time
}

func (q *fakeQueue) Push(_ context.Context, id string, due time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pushed == nil {
		q.pushed = make(map[string]time.Time)
	}
	q.pushed[id] = due
	return nil
}

type brokenChecker struct{}

func (brokenChecker) IsSuppressed(context.Context, string) (bool, error) {
	return false, errors.New("ledger unreachable")
}

type harness struct {
	clock      *clock
	actions    *memory.ActionRepo
	identities *identity.Service
	suppress   *suppression.Service
	deliverer  *fakeDeliverer
	queue      *fakeQueue
	svc        *Service
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		clock:      &clock{now: t0},
		actions:    memory.NewActionRepo(),
		identities: identity.NewService(memory.NewIdentityRepo(), nil),
		suppress:   suppression.NewService(memory.NewSuppressionRepo()),
		deliverer:  &fakeDeliverer{},
		queue:      &fakeQueue{},
	}
	h.identities.SetClock(h.clock.Now)
	if cfg.Owner == "" {
		cfg.Owner = "worker-1"
	}
	h.svc = h.newService(cfg, h.suppress)
	return h
}

func (h *harness) newService(cfg Config, checker SuppressionChecker) *Service {
	svc := NewService(h.actions, h.identities, checker, h.deliverer, cfg)
	svc.SetClock(h.clock.Now)
	svc.SetQueue(h.queue)
	return svc
}

func click(id string) domain.Event {
	return domain.Event{
		ID:          id,
		Type:        domain.EventListenClick,
		SubjectID:   "S1",
		AnonymousID: "A1",
		Timestamp:   t0,
		Attributes:  map[string]string{domain.AttrPlatform: "spotify"},
	}
}

func TestTrigger_CreatesPendingActionAfterDelay(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	actions, err := h.svc.Trigger(ctx, click("evt-1"))
	require.NoError(t, err)
	require.Len(t, actions, 1)

	a := actions[0]
	assert.Equal(t, domain.ActionPending, a.Status)
	assert.Equal(t, "listen_followup", a.ActionType)
	assert.Equal(t, t0.Add(7*time.Minute), a.NotBefore)
	assert.Equal(t, "spotify", a.Payload["platform"])
	assert.Empty(t, a.RecipientID, "anonymous visitor has no recipient yet")
	assert.Equal(t, a.NotBefore, h.queue.pushed[a.ID])
}

func TestTrigger_NonTriggerEventIsIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	actions, err := h.svc.Trigger(context.Background(), domain.Event{ID: "e", Type: domain.EventProfileView, AnonymousID: "A1"})
	require.NoError(t, err)
	assert.Empty(t, actions)
	assert.False(t, h.svc.IsTrigger(domain.EventProfileView))
	assert.True(t, h.svc.IsTrigger(domain.EventListenClick))
}

func TestTrigger_DuplicateDeliveryCreatesOneAction(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 25)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actions, err := h.svc.Trigger(ctx, click("evt-dup"))
			if err != nil || len(actions) != 1 {
				t.Errorf("Trigger: %v %v", actions, err)
				return
			}
			ids[i] = actions[0].ID
		}(i)
	}
	wg.Wait()

	all, total, err := h.svc.List(ctx, domain.ActionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	for _, id := range ids {
		assert.Equal(t, all[0].ID, id)
	}
}

func TestTrigger_SuppressedAtScheduleTime(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.identities.AttachIdentifier(ctx, "A1", "fan@example.com", t0)
	require.NoError(t, err)
	_, err = h.suppress.Suppress(ctx, "fan@example.com", domain.ReasonUnsubscribe, "")
	require.NoError(t, err)

	actions, err := h.svc.Trigger(ctx, click("evt-1"))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ActionSuppressed, actions[0].Status)
	assert.Empty(t, h.queue.pushed, "terminal actions are not queued")
}

func TestExecute_NotDueYet(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	actions, err := h.svc.Trigger(ctx, click("evt-1"))
	require.NoError(t, err)

	h.clock.Advance(6 * time.Minute)
	_, err = h.svc.Execute(ctx, actions[0].ID)
	assert.ErrorIs(t, err, domain.ErrLeaseNotAcquired)
	assert.Zero(t, atomic.LoadInt32(&h.deliverer.calls))
}

func TestScenario_ClickThenIdentifyThenSend(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	actions, err := h.svc.Trigger(ctx, click("evt-1"))
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	_, err = h.identities.AttachIdentifier(ctx, "A1", "fan@example.com", time.Time{})
	require.NoError(t, err)

	h.clock.Advance(5 * time.Minute)
	a, err := h.svc.Execute(ctx, actions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSent, a.Status)
	assert.Equal(t, "fan@example.com", a.RecipientID)
	assert.Equal(t, 1, a.AttemptCount)
	assert.Equal(t, []string{"fan@example.com/listen_followup"}, h.deliverer.sent)

	stored, err := h.svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSent, stored.Status)

	// Terminal: a second execution is refused.
	_, err = h.svc.Execute(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrLeaseNotAcquired)
	assert.Len(t, h.deliverer.sent, 1)
}

func TestScenario_SuppressedBeforeSendIsNeverSent(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.identities.AttachIdentifier(ctx, "A1", "fan@example.com", t0)
	require.NoError(t, err)
	actions, err := h.svc.Trigger(ctx, click("evt-1"))
	require.NoError(t, err)
	require.Equal(t, domain.ActionPending, actions[0].Status)

	h.clock.Advance(3 * time.Minute)
	_, err = h.suppress.Suppress(ctx, "FAN@example.com", domain.ReasonManual, "ops")
	require.NoError(t, err)

	h.clock.Advance(4 * time.Minute)
	a, err := h.svc.Execute(ctx, actions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSuppressed, a.Status)
	assert.Zero(t, atomic.LoadInt32(&h.deliverer.calls))
}

func TestExecute_NeverIdentifiedIsSkipped(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	actions, err := h.svc.Trigger(ctx, click("evt-1"))
	require.NoError(t, err)
	h.clock.Advance(7 * time.Minute)

	a, err := h.svc.Execute(ctx, actions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSkipped, a.Status)
	assert.Zero(t, atomic.LoadInt32(&h.deliverer.calls))
}

func TestExecute_SuppressionCheckErrorFailsClosed(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	svc := h.newService(Config{Owner: "worker-1"}, brokenChecker{})

	_, err := h.identities.AttachIdentifier(ctx, "A1", "fan@example.com", t0)
	require.NoError(t, err)
	actions, err := svc.Trigger(ctx, click("evt-1"))
	require.NoError(t, err)
	require.Equal(t, domain.ActionPending, actions[0].Status, "schedule-time errors defer to the send-time check")

	h.clock.Advance(7 * time.Minute)
	a, err := svc.Execute(ctx, actions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSuppressed, a.Status)
	assert.Contains(t, a.LastError, "suppression check failed")
	assert.Zero(t, atomic.LoadInt32(&h.deliverer.calls))
}

func TestExecute_RetriesWithBackoffThenFails(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 3, BackoffBase: time.Minute, BackoffMax: 10 * time.Minute})
	h.deliverer.fail = 100
	ctx := context.Background()

	_, err := h.identities.AttachIdentifier(ctx, "A1", "fan@example.com", t0)
	require.NoError(t, err)
	actions, err := h.svc.Trigger(ctx, click("evt-1"))
	require.NoError(t, err)
	id := actions[0].ID

	h.clock.Advance(7 * time.Minute)
	a, err := h.svc.Execute(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionPending, a.Status)
	assert.Equal(t, 1, a.AttemptCount)
	assert.Equal(t, h.clock.Now().Add(time.Minute), a.NotBefore)
	assert.Equal(t, a.NotBefore, h.queue.pushed[id])

	h.clock.Advance(time.Minute)
	a, err = h.svc.Execute(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionPending, a.Status)
	assert.Equal(t, 2, a.AttemptCount)
	assert.Equal(t, h.clock.Now().Add(2*time.Minute), a.NotBefore)

	h.clock.Advance(2 * time.Minute)
	a, err = h.svc.Execute(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionFailed, a.Status)
	assert.Equal(t, 3, a.AttemptCount)
	assert.Contains(t, a.LastError, "provider timeout")

	failed, total, err := h.svc.List(ctx, domain.ActionFilter{Status: domain.ActionFailed})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, id, failed[0].ID)
}

func TestExecute_RecoversAfterTransientDeliveryFailure(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 5, BackoffBase: time.Minute})
	h.deliverer.fail = 1
	ctx := context.Background()

	_, err := h.identities.AttachIdentifier(ctx, "A1", "fan@example.com", t0)
	require.NoError(t, err)
	actions, err := h.svc.Trigger(ctx, click("evt-1"))
	require.NoError(t, err)

	h.clock.Advance(7 * time.Minute)
	a, err := h.svc.Execute(ctx, actions[0].ID)
	require.NoError(t, err)
	require.Equal(t, domain.ActionPending, a.Status)

	h.clock.Advance(time.Minute)
	a, err = h.svc.Execute(ctx, actions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSent, a.Status)
	assert.Equal(t, 2, a.AttemptCount)
}

func TestExecute_UnknownActionTypeFailsImmediately(t *testing.T) {
	h := newHarness(t, Config{})
	h.deliverer.err = &domain.DeliveryFailure{Provider: "router", Err: domain.ErrUnknownActionType}
	ctx := context.Background()

	_, err := h.identities.AttachIdentifier(ctx, "A1", "fan@example.com", t0)
	require.NoError(t, err)
	actions, err := h.svc.Trigger(ctx, click("evt-1"))
	require.NoError(t, err)

	h.clock.Advance(7 * time.Minute)
	a, err := h.svc.Execute(ctx, actions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionFailed, a.Status)
	assert.Equal(t, 1, a.AttemptCount)
}

func TestExecute_ConcurrentWorkersSendOnce(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.identities.AttachIdentifier(ctx, "A1", "fan@example.com", t0)
	require.NoError(t, err)
	actions, err := h.svc.Trigger(ctx, click("evt-1"))
	require.NoError(t, err)
	h.clock.Advance(7 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			worker := h.newService(Config{Owner: fmt.Sprintf("worker-%d", i)}, h.suppress)
			_, _ = worker.Execute(ctx, actions[0].ID)
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&h.deliverer.calls))
	stored, err := h.svc.Get(ctx, actions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSent, stored.Status)
}

func TestExecute_UnknownAction(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.svc.Execute(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type blockingDeliverer struct {
	calls   int32
	entered chan struct{}
	release chan struct{}
}

func (d *blockingDeliverer) Send(context.Context, string, string, map[string]string) error {
	if atomic.AddInt32(&d.calls, 1) == 1 {
		close(d.entered)
	}
	<-d.release
	return nil
}

func TestExecute_SameProcessNeverRetakesLiveLease(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.identities.AttachIdentifier(ctx, "A1", "fan@example.com", t0)
	require.NoError(t, err)
	actions, err := h.svc.Trigger(ctx, click("evt-1"))
	require.NoError(t, err)
	h.clock.Advance(7 * time.Minute)

	slow := &blockingDeliverer{entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(h.actions, h.identities, h.suppress, slow, Config{Owner: "proc-1"})
	svc.SetClock(h.clock.Now)

	first := make(chan error, 1)
	go func() {
		_, err := svc.Execute(ctx, actions[0].ID)
		first <- err
	}()
	<-slow.entered

	// A re-queued copy of the id reaches another goroutine of the same process.
	_, err = svc.Execute(ctx, actions[0].ID)
	assert.ErrorIs(t, err, domain.ErrLeaseNotAcquired)

	close(slow.release)
	require.NoError(t, <-first)
	assert.EqualValues(t, 1, atomic.LoadInt32(&slow.calls))

	stored, err := svc.Get(ctx, actions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSent, stored.Status)
	assert.Empty(t, stored.LeaseOwner)
}

func TestExecute_QuotaRefusalDefersWithoutSpendingAttempts(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 2})
	h.deliverer.err = &domain.RateLimitedError{Channel: "ses", Wait: 40 * time.Second}
	ctx := context.Background()

	_, err := h.identities.AttachIdentifier(ctx, "A1", "fan@example.com", t0)
	require.NoError(t, err)
	actions, err := h.svc.Trigger(ctx, click("evt-1"))
	require.NoError(t, err)
	id := actions[0].ID
	h.clock.Advance(7 * time.Minute)

	for i := 0; i < 5; i++ {
		a, err := h.svc.Execute(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.ActionPending, a.Status)
		assert.Zero(t, a.AttemptCount)
		assert.Equal(t, h.clock.Now().Add(40*time.Second), a.NotBefore)
		assert.Equal(t, a.NotBefore, h.queue.pushed[id])
		h.clock.Advance(40 * time.Second)
	}

	h.deliverer.mu.Lock()
	h.deliverer.err = nil
	h.deliverer.mu.Unlock()
	a, err := h.svc.Execute(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSent, a.Status)
	assert.Equal(t, 1, a.AttemptCount)
}
