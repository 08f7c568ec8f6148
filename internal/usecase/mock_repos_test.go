package usecase

import (
	"context"
	"sync"
	"time"

	"crm-notification-service/internal/domain"
	"crm-notification-service/internal/repository"
	"crm-notification-service/pkg/xerrors"
)

// ── Mock NotificationRepository ──

type mockNotificationRepo struct {
	mu            sync.Mutex
	notifications map[int64]*domain.Notification
	nextID        int64
}

func newMockNotificationRepo() *mockNotificationRepo {
	return &mockNotificationRepo{notifications: make(map[int64]*domain.Notification), nextID: 1}
}

func (m *mockNotificationRepo) Create(_ context.Context, n *domain.Notification) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	cp.ID = m.nextID
	m.nextID++
	if cp.Status == "" {
		cp.Status = domain.StatusUnread
	}
	cp.CreatedAt = time.Now()
	m.notifications[cp.ID] = &cp
	return &cp, nil
}

func (m *mockNotificationRepo) GetByID(_ context.Context, id int64) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.notifications[id]; ok {
		cp := *n
		return &cp, nil
	}
	return nil, xerrors.ErrNotFound
}

func (m *mockNotificationRepo) ListByIDs(_ context.Context, ids []int64) ([]*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Notification
	for _, id := range ids {
		if n, ok := m.notifications[id]; ok {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockNotificationRepo) ListByUser(_ context.Context, userID string, f repository.ListFilter) ([]*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Notification
	for _, n := range m.notifications {
		if n.UserID != userID {
			continue
		}
		if f.Status != "" && n.Status != f.Status {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockNotificationRepo) CountUnread(_ context.Context, userID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.notifications {
		if n.UserID == userID && n.Status == domain.StatusUnread && !n.Expired(now) {
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationRepo) MarkRead(_ context.Context, id int64, userID string) error {
	return m.setStatus(id, userID, domain.StatusRead)
}

func (m *mockNotificationRepo) Archive(_ context.Context, id int64, userID string) error {
	return m.setStatus(id, userID, domain.StatusArchived)
}

func (m *mockNotificationRepo) Snooze(_ context.Context, id int64, userID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.UserID != userID {
		return xerrors.ErrNotFound
	}
	n.Status = domain.StatusSnoozed
	n.SnoozedUntil = &until
	return nil
}

func (m *mockNotificationRepo) setStatus(id int64, userID string, status domain.NotificationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.UserID != userID {
		return xerrors.ErrNotFound
	}
	n.Status = status
	return nil
}

// ── Mock DeliveryRepository ──

type mockDeliveryRepo struct {
	mu         sync.Mutex
	deliveries map[int64]*domain.Delivery
	nextID     int64
}

func newMockDeliveryRepo() *mockDeliveryRepo {
	return &mockDeliveryRepo{deliveries: make(map[int64]*domain.Delivery), nextID: 1}
}

func (m *mockDeliveryRepo) Create(_ context.Context, d *domain.Delivery) (*domain.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	cp.ID = m.nextID
	m.nextID++
	if cp.Status == "" {
		cp.Status = domain.DeliveryPending
	}
	cp.CreatedAt = time.Now()
	m.deliveries[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *mockDeliveryRepo) GetByID(_ context.Context, id int64) (*domain.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.deliveries[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, xerrors.ErrNotFound
}

func (m *mockDeliveryRepo) GetByNotificationAndChannel(_ context.Context, notificationID int64, channel domain.Channel) (*domain.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deliveries {
		if d.NotificationID == notificationID && d.Channel == channel {
			cp := *d
			return &cp, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (m *mockDeliveryRepo) FindByProviderMessageID(_ context.Context, channel domain.Channel, providerMessageID string) (*domain.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deliveries {
		if d.Channel == channel && d.ProviderMessageID != nil && *d.ProviderMessageID == providerMessageID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (m *mockDeliveryRepo) ListByNotification(_ context.Context, notificationID int64) ([]*domain.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Delivery
	for _, d := range m.deliveries {
		if d.NotificationID == notificationID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockDeliveryRepo) ListPendingInApp(_ context.Context, _ string) ([]*repository.InAppPending, error) {
	return nil, nil
}

func (m *mockDeliveryRepo) UpdateStatus(_ context.Context, id int64, target domain.DeliveryStatus, lastError *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return false, xerrors.ErrNotFound
	}
	if !domain.CanTransition(d.Status, target) {
		return false, nil
	}
	d.Status = target
	if lastError != nil {
		d.LastError = lastError
	}
	now := time.Now()
	switch target {
	case domain.DeliverySent:
		d.SentAt = &now
	case domain.DeliveryDelivered:
		d.DeliveredAt = &now
	case domain.DeliveryRead:
		d.ReadAt = &now
	case domain.DeliveryClicked:
		d.ClickedAt = &now
	case domain.DeliveryFailed:
		d.FailedAt = &now
	}
	return true, nil
}

func (m *mockDeliveryRepo) SetProviderMessageID(_ context.Context, id int64, providerMessageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	d.ProviderMessageID = &providerMessageID
	return nil
}

func (m *mockDeliveryRepo) IncrementAttempt(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	d.AttemptCount++
	return nil
}

func (m *mockDeliveryRepo) status(id int64) domain.DeliveryStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.deliveries[id]; ok {
		return d.Status
	}
	return ""
}

// ── Mock PreferenceRepository ──

type mockPreferenceRepo struct {
	mu      sync.Mutex
	prefs   map[string]*domain.NotificationPreference
	blocked map[string]string
	bounces map[string]int
	nextID  int64
}

func newMockPreferenceRepo() *mockPreferenceRepo {
	return &mockPreferenceRepo{
		prefs:   make(map[string]*domain.NotificationPreference),
		blocked: make(map[string]string),
		bounces: make(map[string]int),
		nextID:  1,
	}
}

func prefKey(userID string, eventType domain.EventType) string {
	return userID + "|" + string(eventType)
}

func (m *mockPreferenceRepo) Get(_ context.Context, userID string, eventType domain.EventType) (*domain.NotificationPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.prefs[prefKey(userID, eventType)]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, xerrors.ErrNotFound
}

func (m *mockPreferenceRepo) Upsert(_ context.Context, p *domain.NotificationPreference) (*domain.NotificationPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	if cp.ID == 0 {
		cp.ID = m.nextID
		m.nextID++
	}
	m.prefs[prefKey(p.UserID, p.EventType)] = &cp
	out := cp
	return &out, nil
}

func (m *mockPreferenceRepo) ListByUser(_ context.Context, userID string) ([]*domain.NotificationPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.NotificationPreference
	for _, p := range m.prefs {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockPreferenceRepo) EmailBlocked(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blocked[userID]
	return ok, nil
}

func (m *mockPreferenceRepo) BlockEmail(_ context.Context, userID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocked[userID]; !ok {
		m.blocked[userID] = reason
	}
	return nil
}

func (m *mockPreferenceRepo) UnblockEmail(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocked, userID)
	delete(m.bounces, userID)
	return nil
}

func (m *mockPreferenceRepo) RecordHardBounce(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bounces[userID]++
	return m.bounces[userID], nil
}

// ── Mock BatchRepository ──

type mockBatchRepo struct {
	mu      sync.Mutex
	batches map[int64]*domain.NotificationBatch
	nextID  int64
}

func newMockBatchRepo() *mockBatchRepo {
	return &mockBatchRepo{batches: make(map[int64]*domain.NotificationBatch), nextID: 1}
}

func (m *mockBatchRepo) GetOpen(_ context.Context, userID string, freq domain.Frequency) (*domain.NotificationBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		if b.UserID == userID && b.Frequency == freq && b.Status == domain.BatchPending {
			cp := *b
			return &cp, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (m *mockBatchRepo) Create(_ context.Context, b *domain.NotificationBatch) (*domain.NotificationBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	cp.ID = m.nextID
	m.nextID++
	cp.CreatedAt = time.Now()
	m.batches[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *mockBatchRepo) AppendNotification(_ context.Context, batchID, notificationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return xerrors.ErrNotFound
	}
	if b.Status != domain.BatchPending {
		return xerrors.ErrBatchClosed
	}
	if !b.Contains(notificationID) {
		b.NotificationIDs = append(b.NotificationIDs, notificationID)
	}
	return nil
}

func (m *mockBatchRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*domain.NotificationBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.NotificationBatch
	for _, b := range m.batches {
		if b.Status == domain.BatchPending && !b.ScheduledFor.After(now) {
			cp := *b
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *mockBatchRepo) Close(_ context.Context, batchID int64, status domain.BatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return xerrors.ErrNotFound
	}
	if b.Status != domain.BatchPending {
		return xerrors.ErrBatchClosed
	}
	b.Status = status
	now := time.Now()
	b.ClosedAt = &now
	return nil
}

// ── Mock SubscriptionRepository ──

type mockSubscriptionRepo struct {
	mu     sync.Mutex
	subs   map[int64]*domain.PushSubscription
	nextID int64
}

func newMockSubscriptionRepo() *mockSubscriptionRepo {
	return &mockSubscriptionRepo{subs: make(map[int64]*domain.PushSubscription), nextID: 1}
}

func (m *mockSubscriptionRepo) Create(_ context.Context, s *domain.PushSubscription) (*domain.PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.subs {
		if existing.UserID == s.UserID && existing.Endpoint == s.Endpoint {
			existing.Active = true
			cp := *existing
			return &cp, nil
		}
	}
	cp := *s
	cp.ID = m.nextID
	m.nextID++
	cp.Active = true
	m.subs[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *mockSubscriptionRepo) ListActiveByUser(_ context.Context, userID string) ([]*domain.PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PushSubscription
	for _, s := range m.subs {
		if s.UserID == userID && s.Active {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockSubscriptionRepo) Deactivate(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	s.Active = false
	return nil
}

func (m *mockSubscriptionRepo) DeleteByEndpoint(_ context.Context, userID, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.subs {
		if s.UserID == userID && s.Endpoint == endpoint {
			delete(m.subs, id)
			return nil
		}
	}
	return xerrors.ErrNotFound
}

func newMockRepository() *repository.Repository {
	return &repository.Repository{
		Notifications: newMockNotificationRepo(),
		Deliveries:    newMockDeliveryRepo(),
		Preferences:   newMockPreferenceRepo(),
		Batches:       newMockBatchRepo(),
		Subscriptions: newMockSubscriptionRepo(),
	}
}
