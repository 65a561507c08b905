package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"enharness/internal/domain"
)

// summary is the webhook payload. It carries enough to page on a
// failed run without the receiver fetching anything else.
type summary struct {
	RunID      string    `json:"run_id"`
	Target     string    `json:"target"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	FirstPhase string    `json:"first_failed_phase,omitempty"`
	FirstCheck string    `json:"first_failed_check,omitempty"`
	Detail     string    `json:"first_failure_detail,omitempty"`
}

type Webhook struct {
	webhookURL string
	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration
	httpClient *http.Client
}

func NewWebhook(webhookURL string, timeout time.Duration, maxRetries int, retryBase, retryMax time.Duration) *Webhook {
	return &Webhook{
		webhookURL: webhookURL,
		maxRetries: maxRetries,
		retryBase:  retryBase,
		retryMax:   retryMax,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Write delivers the run summary. A blank URL disables delivery.
// Retries cover network errors and 5xx responses with capped backoff;
// the receiver deduplicates on the idempotency key.
func (w *Webhook) Write(ctx context.Context, report *domain.RunReport) error {
	if w.webhookURL == "" {
		return nil
	}

	passed, failed, skipped := report.Counts()
	payload := summary{
		RunID:      report.RunID,
		Target:     report.Target,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Passed:     passed,
		Failed:     failed,
		Skipped:    skipped,
	}
	if first := report.FirstFailure(); first != nil {
		payload.FirstPhase = first.Phase
		payload.FirstCheck = first.Check
		payload.Detail = first.Detail
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	delay := w.retryBase
	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > w.retryMax {
				delay = w.retryMax
			}
		}

		retryable, err := w.post(ctx, report.RunID, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return fmt.Errorf("notify run %s: %w", report.RunID, lastErr)
}

func (w *Webhook) post(ctx context.Context, runID string, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", runID)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return true, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return false, fmt.Errorf("webhook rejected payload with status %d", resp.StatusCode)
	}
	return false, nil
}
