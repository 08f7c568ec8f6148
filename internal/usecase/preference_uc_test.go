package usecase

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"crm-notification-service/internal/domain"
	"crm-notification-service/internal/repository"
	"crm-notification-service/pkg/xerrors"
)

func setupTestResolver() (*PreferenceResolver, *repository.Repository) {
	repo := newMockRepository()
	return NewPreferenceResolver(repo, zap.NewNop()), repo
}

func TestResolver_Resolve_DefaultsWhenUnset(t *testing.T) {
	resolver, _ := setupTestResolver()

	pref := resolver.Resolve(context.Background(), "u1", domain.EventLeadCreated)
	if pref == nil {
		t.Fatal("Resolve must never return nil")
	}
	if !pref.InApp.Enabled {
		t.Error("default in-app should be enabled")
	}
	if pref.Email.Frequency != domain.FrequencyDaily {
		t.Errorf("default email frequency = %s, want daily", pref.Email.Frequency)
	}
}

func TestResolver_Resolve_UsesStoredPreference(t *testing.T) {
	resolver, repo := setupTestResolver()
	ctx := context.Background()

	stored := domain.DefaultPreference("u1", domain.EventLeadCreated)
	stored.InApp.Enabled = false
	stored.SMS.Enabled = true
	if _, err := repo.Preferences.Upsert(ctx, stored); err != nil {
		t.Fatalf("seed: %v", err)
	}

	pref := resolver.Resolve(ctx, "u1", domain.EventLeadCreated)
	if pref.InApp.Enabled {
		t.Error("stored override ignored")
	}
	if !pref.SMS.Enabled {
		t.Error("stored sms opt-in ignored")
	}
}

func TestResolver_Resolve_EmailBlockOverrides(t *testing.T) {
	resolver, repo := setupTestResolver()
	ctx := context.Background()

	if err := repo.Preferences.BlockEmail(ctx, "u1", "complaint"); err != nil {
		t.Fatalf("seed block: %v", err)
	}

	pref := resolver.Resolve(ctx, "u1", domain.EventPaymentFailed)
	if pref.Email.Enabled {
		t.Error("blocked user's email must resolve disabled even for critical events")
	}
	if !pref.InApp.Enabled {
		t.Error("email block must not touch other channels")
	}
}

func TestResolver_Upsert_Validation(t *testing.T) {
	resolver, _ := setupTestResolver()
	ctx := context.Background()

	_, err := resolver.Upsert(ctx, &domain.NotificationPreference{UserID: "u1", EventType: "nope"})
	if !errors.Is(err, xerrors.ErrUnknownEventType) {
		t.Errorf("unknown event error = %v", err)
	}

	_, err = resolver.Upsert(ctx, &domain.NotificationPreference{
		UserID:    "u1",
		EventType: domain.EventDealWon,
		Email:     domain.EmailSettings{Enabled: true, Frequency: "fortnightly"},
	})
	if !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Errorf("bad frequency error = %v", err)
	}

	_, err = resolver.Upsert(ctx, &domain.NotificationPreference{
		UserID:    "u1",
		EventType: domain.EventDealWon,
		Email: domain.EmailSettings{
			Enabled:    true,
			Frequency:  domain.FrequencyInstant,
			QuietHours: &domain.QuietHours{Start: "25:00", End: "08:00"},
		},
	})
	if !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Errorf("bad quiet hours error = %v", err)
	}

	saved, err := resolver.Upsert(ctx, &domain.NotificationPreference{
		UserID:    "u1",
		EventType: domain.EventDealWon,
		Email:     domain.EmailSettings{Enabled: true},
	})
	if err != nil {
		t.Fatalf("valid upsert: %v", err)
	}
	if saved.MinPriority != domain.PriorityLow {
		t.Errorf("min priority default = %s, want low", saved.MinPriority)
	}
	if saved.Email.Frequency != domain.FrequencyInstant {
		t.Errorf("frequency default = %s, want instant", saved.Email.Frequency)
	}
}

func TestResolver_Upsert_EmailReEnableLiftsBlock(t *testing.T) {
	resolver, repo := setupTestResolver()
	ctx := context.Background()

	if err := repo.Preferences.BlockEmail(ctx, "u1", "3 hard bounces"); err != nil {
		t.Fatalf("seed block: %v", err)
	}

	// a write that leaves email off keeps the block in place
	_, err := resolver.Upsert(ctx, &domain.NotificationPreference{
		UserID:    "u1",
		EventType: domain.EventDealWon,
		Email:     domain.EmailSettings{Enabled: false},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if blocked, _ := repo.Preferences.EmailBlocked(ctx, "u1"); !blocked {
		t.Fatal("block lifted without an email opt-in")
	}

	// opting back in clears the block, and Resolve stops overriding the row
	_, err = resolver.Upsert(ctx, &domain.NotificationPreference{
		UserID:    "u1",
		EventType: domain.EventDealWon,
		Email:     domain.EmailSettings{Enabled: true},
	})
	if err != nil {
		t.Fatalf("re-enable upsert: %v", err)
	}
	if blocked, _ := repo.Preferences.EmailBlocked(ctx, "u1"); blocked {
		t.Error("block survived an explicit email re-enable")
	}
	if pref := resolver.Resolve(ctx, "u1", domain.EventDealWon); !pref.Email.Enabled {
		t.Error("resolved email still disabled after re-enable")
	}
}

func TestResolver_PushSubscriptions(t *testing.T) {
	resolver, _ := setupTestResolver()
	ctx := context.Background()

	_, err := resolver.RegisterPushSubscription(ctx, &domain.PushSubscription{UserID: "u1"})
	if !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Errorf("missing keys error = %v", err)
	}

	saved, err := resolver.RegisterPushSubscription(ctx, &domain.PushSubscription{
		UserID:    "u1",
		Endpoint:  "https://push.example/abc",
		P256dhKey: "p",
		AuthKey:   "a",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !saved.Active {
		t.Error("new subscription should be active")
	}

	subs, _ := resolver.ListPushSubscriptions(ctx, "u1")
	if len(subs) != 1 {
		t.Fatalf("subscriptions = %d, want 1", len(subs))
	}

	if err := resolver.RemovePushSubscription(ctx, "u1", "https://push.example/abc"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	subs, _ = resolver.ListPushSubscriptions(ctx, "u1")
	if len(subs) != 0 {
		t.Error("subscription not removed")
	}
}
