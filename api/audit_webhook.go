package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	// webhookQueueSize bounds the outbound audit event queue.
	webhookQueueSize = 1024
	// webhookRetryDelay is the pause before the single retry of a 5xx.
	webhookRetryDelay = time.Second
)

// webhookEvent is the JSON payload POSTed to the external endpoint.
type webhookEvent struct {
	Event      string            `json:"event"`
	AccountID  string            `json:"account_id,omitempty"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
	Timestamp  string            `json:"timestamp"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// auditWebhook forwards audit events to an external collector. enqueue
// never blocks: a full queue drops the event.
type auditWebhook struct {
	url        string
	authHeader string // "Header: Value"
	client     *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
	events     chan webhookEvent
	wg         sync.WaitGroup
}

func newAuditWebhook(url, authHeader string, logger *slog.Logger) *auditWebhook {
	return startAuditWebhook(&auditWebhook{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		retryDelay: webhookRetryDelay,
		events:     make(chan webhookEvent, webhookQueueSize),
	})
}

func startAuditWebhook(w *auditWebhook) *auditWebhook {
	if w.logger == nil {
		w.logger = slog.New(slog.DiscardHandler)
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// webhookEventFrom flattens an audit record into the wire payload.
func webhookEventFrom(event AuditEvent, remoteAddr string, at time.Time, attrs []slog.Attr) webhookEvent {
	evt := webhookEvent{
		Event:      string(event),
		RemoteAddr: remoteAddr,
		Timestamp:  at.UTC().Format(time.RFC3339),
	}
	for _, a := range attrs {
		if a.Key == "account_id" {
			evt.AccountID = a.Value.String()
			continue
		}
		if evt.Attrs == nil {
			evt.Attrs = make(map[string]string, len(attrs))
		}
		evt.Attrs[a.Key] = a.Value.String()
	}
	return evt
}

func (w *auditWebhook) enqueue(evt webhookEvent) {
	if w == nil {
		return
	}
	select {
	case w.events <- evt:
	default:
		w.logger.Warn("audit webhook queue full, dropping event", slog.String("event", evt.Event))
	}
}

// close stops accepting events and waits for the queue to drain.
func (w *auditWebhook) close() {
	if w == nil {
		return
	}
	close(w.events)
	w.wg.Wait()
}

func (w *auditWebhook) loop() {
	defer w.wg.Done()
	for evt := range w.events {
		if err := w.send(context.Background(), evt); err != nil {
			w.logger.Warn("audit webhook delivery failed",
				slog.String("event", evt.Event),
				slog.Any("error", err))
		}
	}
}

// send POSTs evt, retrying once on a transport error or 5xx.
func (w *auditWebhook) send(ctx context.Context, evt webhookEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	b := retry.WithMaxRetries(1, retry.NewConstant(max(w.retryDelay, time.Millisecond)))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Vestio-Audit-Webhook/1.0")
		if name, value, ok := strings.Cut(w.authHeader, ":"); ok {
			req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}

		resp, err := w.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("server error: %d", resp.StatusCode))
		case resp.StatusCode >= 300:
			return fmt.Errorf("rejected: %d", resp.StatusCode)
		}
		return nil
	})
}
