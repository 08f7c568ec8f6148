package template

import (
	"strings"
	"testing"

	"crm-notification-service/internal/domain"
)

func strptr(s string) *string { return &s }

func TestRenderNotification(t *testing.T) {
	svc := NewService()
	body, err := svc.RenderNotification(&domain.Notification{
		Title:       "Deal won",
		Message:     "Acme signed the contract",
		EventType:   domain.EventDealWon,
		ActionURL:   strptr("https://crm.example/deals/42"),
		ActionLabel: strptr("Open deal"),
	})
	if err != nil {
		t.Fatalf("RenderNotification: %v", err)
	}
	for _, want := range []string{"Deal won", "Acme signed the contract", "https://crm.example/deals/42", "Open deal"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestRenderDigest_GroupsByPriority(t *testing.T) {
	svc := NewService()
	body, err := svc.RenderDigest("Daily digest: 3 new notifications", []*domain.Notification{
		{Title: "Routine update", Message: "m1", Priority: domain.PriorityLow},
		{Title: "SLA breached", Message: "m2", Priority: domain.PriorityUrgent},
		{Title: "New lead", Message: "m3", Priority: domain.PriorityMedium},
	})
	if err != nil {
		t.Fatalf("RenderDigest: %v", err)
	}

	// most severe group first
	urgent := strings.Index(body, "Urgent")
	updates := strings.Index(body, "Updates")
	rest := strings.Index(body, "Everything else")
	if urgent == -1 || updates == -1 || rest == -1 {
		t.Fatalf("group labels missing in %q", body)
	}
	if !(urgent < updates && updates < rest) {
		t.Errorf("groups out of order: urgent=%d updates=%d rest=%d", urgent, updates, rest)
	}

	for _, want := range []string{"SLA breached", "New lead", "Routine update"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestRenderDigest_EscapesHTML(t *testing.T) {
	svc := NewService()
	body, err := svc.RenderDigest("s", []*domain.Notification{
		{Title: "<script>alert(1)</script>", Message: "m", Priority: domain.PriorityLow},
	})
	if err != nil {
		t.Fatalf("RenderDigest: %v", err)
	}
	if strings.Contains(body, "<script>") {
		t.Error("html not escaped")
	}
}
