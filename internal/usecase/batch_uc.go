package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"crm-notification-service/internal/domain"
	"crm-notification-service/internal/metrics"
	"crm-notification-service/internal/repository"
	"crm-notification-service/pkg/notifier"
	"crm-notification-service/pkg/template"
	"crm-notification-service/pkg/xerrors"
)

// BatchScheduler accumulates non-instant email notifications into
// time-bucketed digests and flushes the due ones. ProcessDue is the only
// polling point in the whole service; everything else is event-driven.
type BatchScheduler struct {
	repo    *repository.Repository
	digest  notifier.DigestSender
	tmpl    *template.Service
	loc     *time.Location
	clock   func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewBatchScheduler(repo *repository.Repository, digest notifier.DigestSender, tmpl *template.Service, loc *time.Location, m *metrics.Metrics, logger *zap.Logger) *BatchScheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &BatchScheduler{
		repo:    repo,
		digest:  digest,
		tmpl:    tmpl,
		loc:     loc,
		clock:   time.Now,
		metrics: m,
		logger:  logger,
	}
}

// Enqueue adds a notification to the user's open batch for the frequency,
// opening one at the next schedule boundary when none exists. Enqueuing the
// same notification twice is a no-op.
func (s *BatchScheduler) Enqueue(ctx context.Context, userID string, notificationID int64, freq domain.Frequency) error {
	if freq == domain.FrequencyInstant || !freq.Valid() {
		return fmt.Errorf("%w: frequency %q does not batch", xerrors.ErrInvalidInput, freq)
	}

	for attempt := 0; attempt < 2; attempt++ {
		batch, err := s.repo.Batches.GetOpen(ctx, userID, freq)
		if errors.Is(err, xerrors.ErrNotFound) {
			batch, err = s.repo.Batches.Create(ctx, &domain.NotificationBatch{
				UserID:          userID,
				Frequency:       freq,
				NotificationIDs: []int64{notificationID},
				ScheduledFor:    domain.NextScheduleAt(freq, s.clock().In(s.loc)),
				Status:          domain.BatchPending,
			})
			if err == nil {
				return nil
			}
			if xerrors.IsUniqueViolation(err) {
				// Lost the open-batch race; append to the winner.
				continue
			}
			return err
		}
		if err != nil {
			return err
		}

		err = s.repo.Batches.AppendNotification(ctx, batch.ID, notificationID)
		if errors.Is(err, xerrors.ErrBatchClosed) {
			// Flushed between lookup and append; open a fresh batch.
			continue
		}
		return err
	}
	return fmt.Errorf("enqueue notification %d for user %s: batch kept closing", notificationID, userID)
}

// ProcessDue flushes every pending batch whose schedule has passed. Invoked
// on a fixed external cadence. A batch that fails to send is terminal: logged
// and counted, never retried or re-opened.
func (s *BatchScheduler) ProcessDue(ctx context.Context) error {
	now := s.clock().In(s.loc)
	due, err := s.repo.Batches.ListDue(ctx, now, 0)
	if err != nil {
		return fmt.Errorf("list due batches: %w", err)
	}

	for _, batch := range due {
		if err := s.flush(ctx, batch); err != nil {
			s.logger.Error("digest batch failed",
				zap.Int64("batch_id", batch.ID),
				zap.String("user_id", batch.UserID),
				zap.String("frequency", string(batch.Frequency)),
				zap.Error(err))
			s.metrics.BatchesProcessed.WithLabelValues(string(domain.BatchFailed)).Inc()
			if cerr := s.repo.Batches.Close(ctx, batch.ID, domain.BatchFailed); cerr != nil && !errors.Is(cerr, xerrors.ErrBatchClosed) {
				s.logger.Error("failed to close failed batch",
					zap.Int64("batch_id", batch.ID),
					zap.Error(cerr))
			}
			continue
		}
		s.metrics.BatchesProcessed.WithLabelValues(string(domain.BatchSent)).Inc()
		if cerr := s.repo.Batches.Close(ctx, batch.ID, domain.BatchSent); cerr != nil && !errors.Is(cerr, xerrors.ErrBatchClosed) {
			s.logger.Error("failed to close sent batch",
				zap.Int64("batch_id", batch.ID),
				zap.Error(cerr))
		}
	}
	return nil
}

func (s *BatchScheduler) flush(ctx context.Context, batch *domain.NotificationBatch) error {
	notifications, err := s.repo.Notifications.ListByIDs(ctx, batch.NotificationIDs)
	if err != nil {
		return fmt.Errorf("load batch notifications: %w", err)
	}
	if len(notifications) == 0 {
		// Everything referenced has expired or vanished; nothing to send.
		return nil
	}

	subject := digestSubject(batch.Frequency, len(notifications))
	body, err := s.tmpl.RenderDigest(subject, notifications)
	if err != nil {
		return fmt.Errorf("render digest: %w", err)
	}
	if err := s.digest.SendDigest(ctx, batch.UserID, subject, body); err != nil {
		return fmt.Errorf("send digest: %w", err)
	}
	return nil
}

func digestSubject(freq domain.Frequency, count int) string {
	noun := "notifications"
	if count == 1 {
		noun = "notification"
	}
	switch freq {
	case domain.FrequencyHourly:
		return fmt.Sprintf("Hourly update: %d new %s", count, noun)
	case domain.FrequencyWeekly:
		return fmt.Sprintf("Your week in review: %d %s", count, noun)
	default:
		return fmt.Sprintf("Daily digest: %d new %s", count, noun)
	}
}
