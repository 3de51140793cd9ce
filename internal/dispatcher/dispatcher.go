// Package dispatcher leases queued webhook jobs, signs and POSTs them to the
// merchant's configured URL, and schedules exponential-backoff retries. See
// spec.md §4.7.
package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"gatewayd.backend/internal/domain/entities"
	domainrepos "gatewayd.backend/internal/domain/repositories"
	"gatewayd.backend/pkg/logger"
)

const (
	contentTypeJSON = "application/json"
	headerTimestamp = "X-Webhook-Timestamp"
	headerSignature = "X-Webhook-Signature"
)

// Dispatcher runs the lease-sign-POST-retry loop for queued webhook jobs.
// Multiple Dispatcher instances (in this process or another) can run
// concurrently against the same Store: SelectWebhookJobs' SKIP LOCKED lease
// guarantees no two instances deliver the same job at once.
type Dispatcher struct {
	store          domainrepos.Store
	client         *http.Client
	pollInterval   time.Duration
	leaseBatch     int
	maxRetries     int
	fallbackSecret string
}

func New(store domainrepos.Store, pollInterval, httpTimeout time.Duration, leaseBatch, maxRetries int, fallbackSecret string) *Dispatcher {
	return &Dispatcher{
		store:          store,
		client:         &http.Client{Timeout: httpTimeout},
		pollInterval:   pollInterval,
		leaseBatch:     leaseBatch,
		maxRetries:     maxRetries,
		fallbackSecret: fallbackSecret,
	}
}

// Run leases and delivers jobs until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		jobs, err := d.store.SelectWebhookJobs(ctx, d.leaseBatch, time.Now())
		if err != nil {
			logger.Error(ctx, "dispatcher failed to lease webhook jobs", zap.Error(err))
			if !sleepOrDone(ctx, d.pollInterval) {
				return nil
			}
			continue
		}
		if len(jobs) == 0 {
			if !sleepOrDone(ctx, d.pollInterval) {
				return nil
			}
			continue
		}

		for _, job := range jobs {
			go d.deliver(ctx, job)
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// deliver signs and POSTs one job's event, independently of every other
// leased job in the batch (spec.md's "spawn an independent task" per job).
func (d *Dispatcher) deliver(ctx context.Context, job entities.WebhookJob) {
	event, err := job.DecodeEvent()
	if err != nil {
		logger.Error(ctx, "dispatcher failed to decode webhook payload, failing job permanently",
			zap.String("job_id", job.ID), zap.Error(err))
		d.fail(ctx, job.ID)
		return
	}

	invoice, err := d.store.GetInvoice(ctx, job.InvoiceID)
	if err != nil {
		// Storage error: surface-logged, job stays Processing until the
		// lease is reclaimed (recovered at next process startup).
		logger.Error(ctx, "dispatcher failed to load invoice for webhook job",
			zap.String("job_id", job.ID), zap.String("invoice_id", job.InvoiceID), zap.Error(err))
		return
	}
	if !invoice.WebhookURL.Valid || invoice.WebhookURL.String == "" {
		logger.Warn(ctx, "dispatcher leased a job for an invoice with no webhook_url, failing it",
			zap.String("job_id", job.ID), zap.String("invoice_id", job.InvoiceID))
		d.fail(ctx, job.ID)
		return
	}

	body, err := event.Envelope()
	if err != nil {
		logger.Error(ctx, "dispatcher failed to serialize webhook envelope", zap.String("job_id", job.ID), zap.Error(err))
		d.fail(ctx, job.ID)
		return
	}

	secret := invoice.WebhookSecret.String
	if secret == "" {
		secret = d.fallbackSecret
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature := sign(secret, timestamp, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, invoice.WebhookURL.String, bytes.NewReader(body))
	if err != nil {
		logger.Error(ctx, "dispatcher failed to build webhook request", zap.String("job_id", job.ID), zap.Error(err))
		d.fail(ctx, job.ID)
		return
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set(headerTimestamp, timestamp)
	req.Header.Set(headerSignature, signature)

	resp, err := d.client.Do(req)
	if err != nil {
		logger.Warn(ctx, "dispatcher webhook POST failed, scheduling retry",
			zap.String("job_id", job.ID), zap.String("url", invoice.WebhookURL.String), zap.Error(err))
		d.retry(ctx, job)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := d.store.MarkWebhookDelivered(ctx, job.ID); err != nil {
			logger.Error(ctx, "dispatcher failed to mark webhook delivered", zap.String("job_id", job.ID), zap.Error(err))
		}
		return
	}

	logger.Warn(ctx, "dispatcher webhook POST got non-2xx, scheduling retry",
		zap.String("job_id", job.ID), zap.Int("status", resp.StatusCode))
	d.retry(ctx, job)
}

// retry reschedules with delay 2^attempt seconds, attempt being the
// post-increment attempt count - the same exponent Store.MarkWebhookRetry
// uses to decide Pending vs permanently Failed. d.maxRetries is the
// dispatcher-wide policy actually enforced; job.MaxRetries (spec.md §3's
// per-job column) is carried on the row as the value the job was enqueued
// under but is not consulted here, since this deployment has no mechanism
// to enqueue a job with a different ceiling than the dispatcher's own.
func (d *Dispatcher) retry(ctx context.Context, job entities.WebhookJob) {
	attempt := job.Attempts + 1
	delay := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if err := d.store.MarkWebhookRetry(ctx, job.ID, time.Now().Add(delay), d.maxRetries); err != nil {
		logger.Error(ctx, "dispatcher failed to schedule webhook retry", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// fail marks a job permanently Failed outright (maxRetries=0 makes
// MarkWebhookRetry's first attempt already exhaust it) - used for
// unrecoverable errors (bad payload, no URL) that a retry can't fix.
func (d *Dispatcher) fail(ctx context.Context, jobID string) {
	if err := d.store.MarkWebhookRetry(ctx, jobID, time.Now(), 0); err != nil {
		logger.Error(ctx, "dispatcher failed to mark webhook job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
