package domain

import (
	"testing"
	"time"
)

func at(hour, min int) time.Time {
	return time.Date(2026, time.March, 10, hour, min, 0, 0, time.UTC)
}

func TestQuietHours_Contains(t *testing.T) {
	overnight := &QuietHours{Start: "22:00", End: "08:00"}
	daytime := &QuietHours{Start: "09:00", End: "17:00"}

	cases := []struct {
		name string
		q    *QuietHours
		now  time.Time
		want bool
	}{
		{"overnight before midnight", overnight, at(23, 30), true},
		{"overnight after midnight", overnight, at(3, 0), true},
		{"overnight outside", overnight, at(12, 0), false},
		{"overnight at start", overnight, at(22, 0), true},
		{"overnight at end is exclusive", overnight, at(8, 0), false},

		{"daytime inside", daytime, at(12, 0), true},
		{"daytime before", daytime, at(8, 59), false},
		{"daytime at end is exclusive", daytime, at(17, 0), false},

		{"nil window", nil, at(12, 0), false},
		{"zero-length window", &QuietHours{Start: "10:00", End: "10:00"}, at(10, 0), false},
		{"malformed start never suppresses", &QuietHours{Start: "25:00", End: "08:00"}, at(3, 0), false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.q.Contains(c.now); got != c.want {
				t.Errorf("Contains(%s) = %v, want %v", c.now.Format("15:04"), got, c.want)
			}
		})
	}
}

func TestQuietHours_Validate(t *testing.T) {
	if err := (&QuietHours{Start: "22:00", End: "08:00"}).Validate(); err != nil {
		t.Errorf("valid window rejected: %v", err)
	}
	if err := (&QuietHours{Start: "24:00", End: "08:00"}).Validate(); err == nil {
		t.Error("expected error for hour 24")
	}
	if err := (&QuietHours{Start: "10:00", End: "10:61"}).Validate(); err == nil {
		t.Error("expected error for minute 61")
	}
	if err := (&QuietHours{Start: "ten", End: "08:00"}).Validate(); err == nil {
		t.Error("expected error for non-numeric clock")
	}
}

func TestDefaultPreference_CriticalEvents(t *testing.T) {
	p := DefaultPreference("u1", EventPaymentFailed)
	if !p.InApp.Enabled {
		t.Error("in-app should default on")
	}
	if !p.Email.Enabled || p.Email.Frequency != FrequencyInstant {
		t.Errorf("critical event should get instant email, got enabled=%v freq=%s", p.Email.Enabled, p.Email.Frequency)
	}
	if !p.Push.Enabled {
		t.Error("critical event should enable push")
	}
	if p.SMS.Enabled {
		t.Error("sms should never default on")
	}
	if p.MinPriority != PriorityLow {
		t.Errorf("min priority should default low, got %s", p.MinPriority)
	}
}

func TestDefaultPreference_RoutineEvents(t *testing.T) {
	p := DefaultPreference("u1", EventLeadCreated)
	if !p.Email.Enabled || p.Email.Frequency != FrequencyDaily {
		t.Errorf("routine event should get daily email digest, got enabled=%v freq=%s", p.Email.Enabled, p.Email.Frequency)
	}
	if p.Push.Enabled {
		t.Error("routine event should not enable push")
	}
}

func TestMeetsFloor(t *testing.T) {
	p := &NotificationPreference{MinPriority: PriorityHigh}
	if p.MeetsFloor(PriorityMedium) {
		t.Error("medium should not clear a high floor")
	}
	if !p.MeetsFloor(PriorityHigh) {
		t.Error("high should clear a high floor")
	}
	if !p.MeetsFloor(PriorityUrgent) {
		t.Error("urgent should clear a high floor")
	}
}

func TestDefaultPriority(t *testing.T) {
	if got := EventTicketSLABreached.DefaultPriority(); got != PriorityUrgent {
		t.Errorf("sla breach default = %s, want urgent", got)
	}
	if got := EventDealWon.DefaultPriority(); got != PriorityHigh {
		t.Errorf("deal.won default = %s, want high", got)
	}
	if got := EventLeadCreated.DefaultPriority(); got != PriorityMedium {
		t.Errorf("lead.created default = %s, want medium", got)
	}
}
