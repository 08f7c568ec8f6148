package domain

import (
	"testing"
	"time"
)

func TestNextScheduleAt_Hourly(t *testing.T) {
	now := time.Date(2026, time.March, 10, 14, 23, 45, 0, time.UTC)
	got := NextScheduleAt(FrequencyHourly, now)
	want := time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("hourly = %v, want %v", got, want)
	}
}

func TestNextScheduleAt_Daily(t *testing.T) {
	now := time.Date(2026, time.March, 10, 14, 23, 0, 0, time.UTC)
	got := NextScheduleAt(FrequencyDaily, now)
	want := time.Date(2026, time.March, 11, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("daily = %v, want %v", got, want)
	}

	// late evening still lands tomorrow 09:00, not the day after
	now = time.Date(2026, time.March, 10, 23, 59, 0, 0, time.UTC)
	got = NextScheduleAt(FrequencyDaily, now)
	if !got.Equal(want) {
		t.Errorf("daily late evening = %v, want %v", got, want)
	}
}

func TestNextScheduleAt_Weekly(t *testing.T) {
	// 2026-03-10 is a Tuesday; next Monday is 2026-03-16.
	now := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)
	got := NextScheduleAt(FrequencyWeekly, now)
	want := time.Date(2026, time.March, 16, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("weekly = %v, want %v", got, want)
	}

	// enqueued on a Monday goes to the following Monday, never today
	monday := time.Date(2026, time.March, 16, 8, 0, 0, 0, time.UTC)
	got = NextScheduleAt(FrequencyWeekly, monday)
	want = time.Date(2026, time.March, 23, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("weekly from monday = %v, want %v", got, want)
	}
}

func TestBatchContains(t *testing.T) {
	b := &NotificationBatch{NotificationIDs: []int64{1, 2, 3}}
	if !b.Contains(2) {
		t.Error("expected batch to contain 2")
	}
	if b.Contains(9) {
		t.Error("did not expect batch to contain 9")
	}
}
