package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gatewayd.backend/internal/domain/entities"
	domainerrors "gatewayd.backend/internal/domain/errors"
	"gatewayd.backend/pkg/utils"
)

// AddWebhookJob queues a delivery for invoiceID, silently skipping invoices
// with no WebhookURL configured - not every invoice wants callbacks.
func (s *GormStore) AddWebhookJob(ctx context.Context, invoiceID string, event entities.WebhookEvent) error {
	var invoice entities.Invoice
	err := s.db.WithContext(ctx).Where("id = ?", invoiceID).First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domainerrors.ErrNotFound
	}
	if err != nil {
		return err
	}
	if !invoice.WebhookURL.Valid || invoice.WebhookURL.String == "" {
		return nil
	}
	job, err := entities.NewWebhookJob(utils.GenerateUUIDv7().String(), invoiceID, event, time.Now())
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&job).Error
}

// SelectWebhookJobs leases up to limit due jobs by flipping them Pending ->
// Processing inside one transaction with SKIP LOCKED, so multiple dispatcher
// replicas never double-lease the same row (teacher's queue-lease pattern).
// When a Redis lease client is configured, each leased job also gets a
// short-TTL key, deleted again when the job is marked delivered or retried.
// No lease or recovery path reads that key: a job left Processing by a dead
// dispatcher stays Processing until RecoverStuckWebhookJobs resets it at the
// next startup.
func (s *GormStore) SelectWebhookJobs(ctx context.Context, limit int, now time.Time) ([]entities.WebhookJob, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	var jobs []entities.WebhookJob
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_attempt_at <= ?", entities.WebhookJobPending, now).
			Order("next_attempt_at").
			Limit(limit).
			Find(&jobs).Error; err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		ids := make([]string, 0, len(jobs))
		for i := range jobs {
			jobs[i].Status = entities.WebhookJobProcessing
			jobs[i].UpdatedAt = now
			ids = append(ids, jobs[i].ID)
		}
		return tx.Model(&entities.WebhookJob{}).Where("id IN ?", ids).
			Updates(map[string]interface{}{"status": entities.WebhookJobProcessing, "updated_at": now}).Error
	})
	if err != nil {
		return nil, err
	}
	if s.leaseClient != nil {
		for _, j := range jobs {
			s.leaseClient.Set(ctx, leaseKey(j.ID), "1", s.leaseTTL)
		}
	}
	return jobs, nil
}

func leaseKey(jobID string) string {
	return "webhook_lease:" + jobID
}

func (s *GormStore) MarkWebhookDelivered(ctx context.Context, jobID string) error {
	res := s.db.WithContext(ctx).Model(&entities.WebhookJob{}).Where("id = ?", jobID).
		Updates(map[string]interface{}{"status": entities.WebhookJobDelivered, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	if s.leaseClient != nil {
		s.leaseClient.Del(ctx, leaseKey(jobID))
	}
	return nil
}

// MarkWebhookRetry reschedules a failed delivery with the caller's computed
// backoff, or marks the job permanently Failed once maxRetries is exhausted.
func (s *GormStore) MarkWebhookRetry(ctx context.Context, jobID string, nextAttemptAt time.Time, maxRetries int) error {
	var job entities.WebhookJob
	if err := s.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domainerrors.ErrNotFound
		}
		return err
	}
	attempts := job.Attempts + 1
	updates := map[string]interface{}{"attempts": attempts, "updated_at": time.Now()}
	if attempts >= maxRetries {
		updates["status"] = entities.WebhookJobFailed
	} else {
		updates["status"] = entities.WebhookJobPending
		updates["next_attempt_at"] = nextAttemptAt
	}
	if err := s.db.WithContext(ctx).Model(&entities.WebhookJob{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
		return err
	}
	if s.leaseClient != nil {
		s.leaseClient.Del(ctx, leaseKey(jobID))
	}
	return nil
}

// RecoverStuckWebhookJobs resets every Processing row to Pending at startup -
// a crash mid-delivery must never strand a job leased forever.
func (s *GormStore) RecoverStuckWebhookJobs(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).Model(&entities.WebhookJob{}).
		Where("status = ?", entities.WebhookJobProcessing).
		Updates(map[string]interface{}{"status": entities.WebhookJobPending, "updated_at": time.Now()})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}
