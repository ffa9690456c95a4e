package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/23blocks-OS/ai-maestro/internal/metrics"
	"github.com/23blocks-OS/ai-maestro/internal/models"
)

const webhookAttemptTimeout = 10 * time.Second

// webhookDelays spaces the delivery attempts: immediate, then two backoffs.
// No dead-letter store: exhausting the schedule logs and gives up, and
// pending retries die with the process.
var webhookDelays = []time.Duration{0, 30 * time.Second, 120 * time.Second}

type webhookJob struct {
	url       string
	messageID string
	body      []byte
}

// WebhookDispatcher pushes delivered messages to agent callback URLs on a
// bounded background executor. Callers never wait on it.
type WebhookDispatcher struct {
	// AllowPrivate disables the private-network guard. Development only.
	AllowPrivate bool

	client *http.Client
	logger zerolog.Logger
	jobs   chan webhookJob
	wg     sync.WaitGroup
	delays []time.Duration
	lookup func(host string) ([]net.IP, error)
}

// NewWebhookDispatcher starts workers goroutines draining the queue.
func NewWebhookDispatcher(workers int, logger zerolog.Logger) *WebhookDispatcher {
	if workers <= 0 {
		workers = 4
	}
	d := &WebhookDispatcher{
		client: &http.Client{Timeout: webhookAttemptTimeout},
		logger: logger,
		jobs:   make(chan webhookJob, 256),
		delays: webhookDelays,
		lookup: net.LookupIP,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// Schedule queues a webhook delivery. It never blocks: when the queue is
// full the event is dropped and logged, like every other side channel.
func (d *WebhookDispatcher) Schedule(callbackURL, messageID string, body models.WebhookBody) {
	data, err := json.Marshal(body)
	if err != nil {
		d.logger.Error().Str("message_id", messageID).Err(err).Msg("webhook body marshal failed")
		return
	}

	select {
	case d.jobs <- webhookJob{url: callbackURL, messageID: messageID, body: data}:
	default:
		metrics.WebhookAttempts.WithLabelValues("fail").Inc()
		d.logger.Warn().
			Str("message_id", messageID).
			Msg("webhook queue full, event dropped")
	}
}

// Close drains queued jobs and stops the workers.
func (d *WebhookDispatcher) Close() {
	close(d.jobs)
	d.wg.Wait()
}

func (d *WebhookDispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		d.deliver(job)
	}
}

func (d *WebhookDispatcher) deliver(job webhookJob) {
	if err := d.checkTarget(job.url); err != nil {
		metrics.WebhookAttempts.WithLabelValues("rejected").Inc()
		d.logger.Warn().
			Str("message_id", job.messageID).
			Str("url", job.url).
			Err(err).
			Msg("webhook target rejected")
		return
	}

	signature := SignWebhook(job.url, job.body)

	for attempt, delay := range d.delays {
		if delay > 0 {
			time.Sleep(delay)
		}

		err := d.attempt(job, signature)
		if err == nil {
			metrics.WebhookAttempts.WithLabelValues("ok").Inc()
			if attempt > 0 {
				d.logger.Info().
					Str("message_id", job.messageID).
					Int("attempt", attempt+1).
					Msg("webhook delivered after retry")
			}
			return
		}

		metrics.WebhookAttempts.WithLabelValues("fail").Inc()
		d.logger.Warn().
			Str("message_id", job.messageID).
			Str("url", job.url).
			Int("attempt", attempt+1).
			Err(err).
			Msg("webhook attempt failed")
	}

	d.logger.Error().
		Str("message_id", job.messageID).
		Str("url", job.url).
		Int("attempts", len(d.delays)).
		Msg("webhook delivery exhausted")
}

func (d *WebhookDispatcher) attempt(job webhookJob, signature string) error {
	ctx, cancel := context.WithTimeout(context.Background(), webhookAttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.url, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-AMP-Signature", signature)
	req.Header.Set("X-AMP-Message-Id", job.messageID)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// checkTarget refuses URLs that would let a registered webhook reach
// internal infrastructure. Rejection happens before any HTTP request.
func (d *WebhookDispatcher) checkTarget(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q not allowed", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("url has no host")
	}
	if d.AllowPrivate {
		return nil
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("loopback target")
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	ips, err := d.lookup(host)
	if err != nil {
		return fmt.Errorf("resolve %q: %v", host, err)
	}
	for _, ip := range ips {
		if err := checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback target %s", ip)
	case ip.IsPrivate():
		return fmt.Errorf("private-range target %s", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified target %s", ip)
	case ip.IsLinkLocalUnicast():
		return fmt.Errorf("link-local target %s", ip)
	}
	return nil
}

// SignWebhook computes the callback signature header value. The key is the
// callback URL itself: both sides know it and nothing else is shared.
func SignWebhook(callbackURL string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(callbackURL))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
