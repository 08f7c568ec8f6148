package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"crm-notification-service/internal/domain"
	"crm-notification-service/internal/repository"
	"crm-notification-service/pkg/xerrors"
)

// PreferenceResolver turns a (user, event type) pair into effective channel
// settings. Missing rows get type-aware defaults; a failing preference read
// also degrades to defaults so notification creation is never blocked.
type PreferenceResolver struct {
	repo   *repository.Repository
	logger *zap.Logger
}

func NewPreferenceResolver(repo *repository.Repository, logger *zap.Logger) *PreferenceResolver {
	return &PreferenceResolver{repo: repo, logger: logger}
}

// Resolve never returns an error: resolution failure means defaults. The
// user's org-wide email block overrides whatever the row says.
func (r *PreferenceResolver) Resolve(ctx context.Context, userID string, eventType domain.EventType) *domain.NotificationPreference {
	pref, err := r.repo.Preferences.Get(ctx, userID, eventType)
	if err != nil {
		if !errors.Is(err, xerrors.ErrNotFound) {
			r.logger.Warn("preference lookup failed, using defaults",
				zap.String("user_id", userID),
				zap.String("event_type", string(eventType)),
				zap.Error(err))
		}
		pref = domain.DefaultPreference(userID, eventType)
	}

	if pref.Email.Enabled {
		blocked, err := r.repo.Preferences.EmailBlocked(ctx, userID)
		if err != nil {
			r.logger.Warn("email block lookup failed, leaving email enabled",
				zap.String("user_id", userID),
				zap.Error(err))
		} else if blocked {
			pref.Email.Enabled = false
		}
	}
	return pref
}

func (r *PreferenceResolver) Get(ctx context.Context, userID string, eventType domain.EventType) (*domain.NotificationPreference, error) {
	if !eventType.Valid() {
		return nil, xerrors.ErrUnknownEventType
	}
	pref, err := r.repo.Preferences.Get(ctx, userID, eventType)
	if errors.Is(err, xerrors.ErrNotFound) {
		return domain.DefaultPreference(userID, eventType), nil
	}
	return pref, err
}

func (r *PreferenceResolver) ListByUser(ctx context.Context, userID string) ([]*domain.NotificationPreference, error) {
	return r.repo.Preferences.ListByUser(ctx, userID)
}

// Upsert validates and stores an explicit user preference update. It is the
// only mutation path for preference rows.
func (r *PreferenceResolver) Upsert(ctx context.Context, p *domain.NotificationPreference) (*domain.NotificationPreference, error) {
	if !p.EventType.Valid() {
		return nil, xerrors.ErrUnknownEventType
	}
	if p.MinPriority == "" {
		p.MinPriority = domain.PriorityLow
	}
	if !p.MinPriority.Valid() {
		return nil, fmt.Errorf("%w: min priority %q", xerrors.ErrInvalidInput, p.MinPriority)
	}
	if p.Email.Frequency == "" {
		p.Email.Frequency = domain.FrequencyInstant
	}
	if !p.Email.Frequency.Valid() {
		return nil, fmt.Errorf("%w: email frequency %q", xerrors.ErrInvalidInput, p.Email.Frequency)
	}
	if p.Email.QuietHours != nil {
		if err := p.Email.QuietHours.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", xerrors.ErrInvalidInput, err)
		}
	}

	// An explicit opt back in to email lifts the bounce/complaint block;
	// otherwise Resolve would override this row forever.
	if p.Email.Enabled {
		if err := r.repo.Preferences.UnblockEmail(ctx, p.UserID); err != nil {
			return nil, err
		}
	}
	return r.repo.Preferences.Upsert(ctx, p)
}

// RegisterPushSubscription stores a browser push endpoint for a user. A
// re-registration of a known endpoint revives it.
func (r *PreferenceResolver) RegisterPushSubscription(ctx context.Context, s *domain.PushSubscription) (*domain.PushSubscription, error) {
	if s.UserID == "" || s.Endpoint == "" || s.P256dhKey == "" || s.AuthKey == "" {
		return nil, fmt.Errorf("%w: endpoint and keys required", xerrors.ErrInvalidInput)
	}
	return r.repo.Subscriptions.Create(ctx, s)
}

func (r *PreferenceResolver) ListPushSubscriptions(ctx context.Context, userID string) ([]*domain.PushSubscription, error) {
	return r.repo.Subscriptions.ListActiveByUser(ctx, userID)
}

func (r *PreferenceResolver) RemovePushSubscription(ctx context.Context, userID, endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint required", xerrors.ErrInvalidInput)
	}
	return r.repo.Subscriptions.DeleteByEndpoint(ctx, userID, endpoint)
}
