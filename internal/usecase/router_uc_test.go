package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"crm-notification-service/internal/domain"
	"crm-notification-service/internal/metrics"
	"crm-notification-service/internal/repository"
	"crm-notification-service/pkg/notifier"
	"crm-notification-service/pkg/template"
	"crm-notification-service/pkg/xerrors"
)

// ── Test doubles ──

type mockAdapter struct {
	channel domain.Channel
	result  *notifier.Result
	err     error

	mu   sync.Mutex
	sent []int64
}

func (a *mockAdapter) Channel() domain.Channel { return a.channel }

func (a *mockAdapter) Send(_ context.Context, _ *domain.Notification, d *domain.Delivery) (*notifier.Result, error) {
	a.mu.Lock()
	a.sent = append(a.sent, d.ID)
	a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	if a.result != nil {
		return a.result, nil
	}
	return &notifier.Result{Sent: 1}, nil
}

func (a *mockAdapter) sendCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

type mockBroadcaster struct {
	online bool

	mu       sync.Mutex
	received []*domain.Notification
}

func (b *mockBroadcaster) BroadcastToUser(_ string, n *domain.Notification) bool {
	b.mu.Lock()
	b.received = append(b.received, n)
	b.mu.Unlock()
	return b.online
}

// eventually polls for an async condition produced by dispatch goroutines.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

type routerFixture struct {
	router  *NotificationRouter
	repo    *repository.Repository
	gateway *mockBroadcaster
	email   *mockAdapter
	push    *mockAdapter
	sms     *mockAdapter
}

func setupTestRouter(online bool) *routerFixture {
	repo := newMockRepository()
	logger := zap.NewNop()
	m := metrics.NewNop()
	resolver := NewPreferenceResolver(repo, logger)
	tracker := NewDeliveryTracker(repo, m, logger, 3)
	batches := NewBatchScheduler(repo, &mockDigestSender{}, template.NewService(), time.UTC, m, logger)
	gw := &mockBroadcaster{online: online}
	email := &mockAdapter{channel: domain.ChannelEmail}
	push := &mockAdapter{channel: domain.ChannelPush}
	sms := &mockAdapter{channel: domain.ChannelSMS}

	r := NewNotificationRouter(repo, resolver, tracker, batches, gw,
		[]notifier.ChannelAdapter{email, push, sms}, time.UTC, m, logger)
	return &routerFixture{router: r, repo: repo, gateway: gw, email: email, push: push, sms: sms}
}

func baseInput(userIDs ...string) CreateInput {
	return CreateInput{
		OrganizationID: "org-1",
		UserIDs:        userIDs,
		EventType:      domain.EventPaymentFailed,
		Title:          "Payment failed",
		Message:        "Invoice 42 could not be charged",
	}
}

// ── Create ──

func TestRouter_Create_Validation(t *testing.T) {
	f := setupTestRouter(true)
	ctx := context.Background()

	_, err := f.router.Create(ctx, CreateInput{OrganizationID: "org-1", UserIDs: []string{"u1"}, EventType: "bogus.event", Title: "x"})
	if !errors.Is(err, xerrors.ErrUnknownEventType) {
		t.Errorf("unknown event type error = %v", err)
	}

	_, err = f.router.Create(ctx, CreateInput{OrganizationID: "org-1", EventType: domain.EventDealWon, Title: "x"})
	if !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Errorf("missing users error = %v", err)
	}

	_, err = f.router.Create(ctx, CreateInput{OrganizationID: "org-1", UserIDs: []string{"u1"}, EventType: domain.EventDealWon})
	if !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Errorf("missing title error = %v", err)
	}
}

func TestRouter_Create_DefaultPriority(t *testing.T) {
	f := setupTestRouter(true)

	created, err := f.router.Create(context.Background(), baseInput("u1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created %d notifications, want 1", len(created))
	}
	if created[0].Priority != domain.PriorityUrgent {
		t.Errorf("priority = %s, want urgent (payment.failed default)", created[0].Priority)
	}
}

func TestRouter_Create_PriorityFloorSkips(t *testing.T) {
	f := setupTestRouter(true)
	ctx := context.Background()

	pref := domain.DefaultPreference("picky", domain.EventLeadCreated)
	pref.MinPriority = domain.PriorityUrgent
	if _, err := f.repo.Preferences.Upsert(ctx, pref); err != nil {
		t.Fatalf("seed pref: %v", err)
	}

	in := baseInput("picky")
	in.EventType = domain.EventLeadCreated
	in.Priority = domain.PriorityMedium

	created, err := f.router.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("created %d notifications, want 0 below the floor", len(created))
	}
	all, _ := f.repo.Notifications.ListByUser(ctx, "picky", repository.ListFilter{})
	if len(all) != 0 {
		t.Error("filtered notification should not be persisted at all")
	}
}

func TestRouter_Create_CriticalEventFansOut(t *testing.T) {
	f := setupTestRouter(true)
	ctx := context.Background()

	created, err := f.router.Create(ctx, baseInput("u1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	n := created[0]

	// defaults for critical events: in-app + instant email + push, no sms
	deliveries, _ := f.repo.Deliveries.ListByNotification(ctx, n.ID)
	channels := make(map[domain.Channel]bool)
	for _, d := range deliveries {
		channels[d.Channel] = true
	}
	if !channels[domain.ChannelInApp] || !channels[domain.ChannelEmail] || !channels[domain.ChannelPush] {
		t.Errorf("deliveries missing channels: %v", channels)
	}
	if channels[domain.ChannelSMS] {
		t.Error("sms delivery created without opt-in")
	}

	eventually(t, func() bool { return f.email.sendCount() == 1 }, "email adapter never invoked")
	eventually(t, func() bool { return f.push.sendCount() == 1 }, "push adapter never invoked")

	// the live broadcast marks the in-app delivery delivered
	inApp, _ := f.repo.Deliveries.GetByNotificationAndChannel(ctx, n.ID, domain.ChannelInApp)
	eventually(t, func() bool {
		d, _ := f.repo.Deliveries.GetByID(ctx, inApp.ID)
		return d.Status == domain.DeliveryDelivered
	}, "in-app delivery never marked delivered")
}

func TestRouter_Create_OfflineLeavesInAppPending(t *testing.T) {
	f := setupTestRouter(false)
	ctx := context.Background()

	created, err := f.router.Create(ctx, baseInput("u1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// give the broadcast goroutine time to run, then confirm nothing moved
	eventually(t, func() bool {
		f.gateway.mu.Lock()
		defer f.gateway.mu.Unlock()
		return len(f.gateway.received) == 1
	}, "broadcast never attempted")
	time.Sleep(50 * time.Millisecond)

	d, _ := f.repo.Deliveries.GetByNotificationAndChannel(ctx, created[0].ID, domain.ChannelInApp)
	if d.Status != domain.DeliveryPending {
		t.Errorf("offline in-app delivery status = %s, want pending", d.Status)
	}
}

func TestRouter_Create_QuietHoursSuppressInstantEmail(t *testing.T) {
	f := setupTestRouter(true)
	ctx := context.Background()

	pref := domain.DefaultPreference("night-owl", domain.EventPaymentFailed)
	pref.Email.QuietHours = &domain.QuietHours{Start: "22:00", End: "08:00"}
	if _, err := f.repo.Preferences.Upsert(ctx, pref); err != nil {
		t.Fatalf("seed pref: %v", err)
	}

	f.router.clock = func() time.Time {
		return time.Date(2026, time.March, 10, 23, 30, 0, 0, time.UTC)
	}

	created, err := f.router.Create(ctx, baseInput("night-owl"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = f.repo.Deliveries.GetByNotificationAndChannel(ctx, created[0].ID, domain.ChannelEmail)
	if !errors.Is(err, xerrors.ErrNotFound) {
		t.Error("instant email should be dropped during quiet hours, not delivered or queued")
	}
	// other channels are untouched
	if _, err := f.repo.Deliveries.GetByNotificationAndChannel(ctx, created[0].ID, domain.ChannelInApp); err != nil {
		t.Errorf("in-app delivery missing: %v", err)
	}
}

func TestRouter_Create_DailyFrequencyBatches(t *testing.T) {
	f := setupTestRouter(true)
	ctx := context.Background()

	// lead.created defaults to a daily email digest
	in := baseInput("u1")
	in.EventType = domain.EventLeadCreated

	created, err := f.router.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = f.repo.Deliveries.GetByNotificationAndChannel(ctx, created[0].ID, domain.ChannelEmail)
	if !errors.Is(err, xerrors.ErrNotFound) {
		t.Error("batched email must not create an immediate delivery")
	}

	batch, err := f.repo.Batches.GetOpen(ctx, "u1", domain.FrequencyDaily)
	if err != nil {
		t.Fatalf("no open daily batch: %v", err)
	}
	if !batch.Contains(created[0].ID) {
		t.Error("notification missing from the daily batch")
	}
}

func TestRouter_Create_MultiUserFanOut(t *testing.T) {
	f := setupTestRouter(true)
	ctx := context.Background()

	created, err := f.router.Create(ctx, baseInput("u1", "u2", "u3"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("created %d notifications, want 3", len(created))
	}
	seen := make(map[string]bool)
	for _, n := range created {
		seen[n.UserID] = true
	}
	if len(seen) != 3 {
		t.Errorf("fan-out users = %v", seen)
	}
}

func TestRouter_Create_BlockedEmailSkipsChannel(t *testing.T) {
	f := setupTestRouter(true)
	ctx := context.Background()

	if err := f.repo.Preferences.BlockEmail(ctx, "u1", "3 hard bounces"); err != nil {
		t.Fatalf("seed block: %v", err)
	}

	created, err := f.router.Create(ctx, baseInput("u1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = f.repo.Deliveries.GetByNotificationAndChannel(ctx, created[0].ID, domain.ChannelEmail)
	if !errors.Is(err, xerrors.ErrNotFound) {
		t.Error("blocked user should get no email delivery")
	}
}
