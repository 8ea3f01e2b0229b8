package fanout

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/wirelabco/wagate/config"
)

// SignatureHeader carries the HMAC-SHA256 of the request body, keyed with
// the per-session webhook secret, as "sha256=<hex>".
const SignatureHeader = "X-Wagate-Signature"

type job struct {
	url    string
	secret string
	env    Envelope
}

// Deliverer posts envelopes to webhook endpoints. One queue and one worker
// per session keeps delivery strictly FIFO within a session while sessions
// stay independent. A full queue drops the newest envelope rather than
// stalling the event pump.
type Deliverer struct {
	client *resty.Client
	cfg    config.WebhookConfig

	mu     sync.Mutex
	queues map[string]chan job
	wg     sync.WaitGroup
	closed bool
}

func NewDeliverer(cfg config.WebhookConfig) *Deliverer {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "wagate-webhook/1.0")
	return &Deliverer{
		client: client,
		cfg:    cfg,
		queues: make(map[string]chan job),
	}
}

// Enqueue queues one envelope for delivery on the session's worker.
func (d *Deliverer) Enqueue(url, secret string, env Envelope) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	q, ok := d.queues[env.Session]
	if !ok {
		q = make(chan job, d.cfg.QueueSize)
		d.queues[env.Session] = q
		d.wg.Add(1)
		go d.worker(q)
	}

	// the send stays under the lock so Remove/Close never close a channel
	// mid-send; it cannot block because a full queue drops instead
	select {
	case q <- job{url: url, secret: secret, env: env}:
	default:
		zap.L().Warn("fanout: webhook queue full, dropping envelope",
			zap.String("session", env.Session), zap.String("event", env.Event),
			zap.String("id", env.ID))
	}
	d.mu.Unlock()
}

// Remove shuts down the session's queue and worker. Called when the session
// is deleted; a later Enqueue for the same name starts a fresh queue.
func (d *Deliverer) Remove(session string) {
	d.mu.Lock()
	if q, ok := d.queues[session]; ok && !d.closed {
		delete(d.queues, session)
		close(q)
	}
	d.mu.Unlock()
}

// Close stops accepting work and waits for the in-flight queues to drain.
func (d *Deliverer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Deliverer) worker(q chan job) {
	defer d.wg.Done()
	for j := range q {
		d.deliver(j)
	}
}

// deliver posts one envelope, retrying with exponential backoff. After the
// attempt budget is spent the envelope is dropped and logged; later
// envelopes for the session are not held up forever by a dead endpoint.
func (d *Deliverer) deliver(j job) {
	body, err := json.Marshal(j.env)
	if err != nil {
		zap.L().Error("fanout: envelope marshal failed",
			zap.String("id", j.env.ID), zap.Error(err))
		return
	}

	delay := d.cfg.BaseDelay
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		req := d.client.R().SetBody(body)
		if j.secret != "" {
			// signing is opt-in; no secret means no signature header
			req.SetHeader(SignatureHeader, Sign(j.secret, body))
		}
		resp, err := req.Post(j.url)

		if err == nil && resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
			return
		}

		fields := []zap.Field{
			zap.String("session", j.env.Session),
			zap.String("id", j.env.ID),
			zap.String("url", j.url),
			zap.Int("attempt", attempt),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		} else {
			fields = append(fields, zap.Int("status", resp.StatusCode()))
		}
		zap.L().Warn("fanout: webhook delivery failed", fields...)

		if attempt == d.cfg.MaxAttempts {
			break
		}
		time.Sleep(delay)
		delay *= 2
		if delay > d.cfg.MaxDelay {
			delay = d.cfg.MaxDelay
		}
	}
	zap.L().Error("fanout: webhook envelope dropped after retries",
		zap.String("session", j.env.Session), zap.String("id", j.env.ID),
		zap.Int("attempts", d.cfg.MaxAttempts))
}

// Sign computes the signature header value for a request body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
