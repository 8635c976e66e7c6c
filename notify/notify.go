// Package notify implements the outbound notification queue: a
// single-consumer worker that serializes sends, observes a configurable
// quiet-hours window, enforces a per-channel dedup cache, and paces itself
// with a post-send interval.
package notify

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/JeromeFenwick/bili-sync/model"
	"github.com/JeromeFenwick/bili-sync/telemetry"
)

const timeLayout = "2006-01-02 15:04:05"

// Message is one outbound notification: the channels to fan it out to, the
// body, and the time it was produced. Test bypasses the dedup cache, used by
// the operator "send test notification" endpoint.
type Message struct {
	Notifiers []model.Notifier
	Message   string
	CreatedAt time.Time
	Test      bool
}

// ConfigSource returns the current configuration snapshot; the queue reads
// it fresh on every pop so live config reloads take effect without
// restarting the worker.
type ConfigSource func() model.Config

// Queue is a single-consumer channel, buffered to 1024 messages, plus its
// worker goroutine. The buffer is bounded.
type Queue struct {
	configs    ConfigSource
	httpClient *http.Client
	sendCh     chan Message
	done       chan struct{}

	mu      sync.Mutex
	lastSet map[string]string
}

// New constructs a Queue; call Start to launch its worker.
func New(configs ConfigSource, httpClient *http.Client) *Queue {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Queue{
		configs:    configs,
		httpClient: httpClient,
		sendCh:     make(chan Message, 1024),
		done:       make(chan struct{}),
		lastSet:    make(map[string]string),
	}
}

// Enqueue adds msg to the queue. It does not wait for delivery, but it
// blocks while 1024 messages are already buffered.
func (q *Queue) Enqueue(msg Message) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	q.sendCh <- msg
}

// Start launches the worker goroutine. It returns immediately; the worker
// runs until ctx is canceled, draining whatever remains queued at that
// point is not attempted — shutdown closes the sender side and the worker
// exits once the channel is empty.
func (q *Queue) Start(ctx context.Context) {
	go q.run(ctx)
}

// Close signals the worker to stop accepting new sends and waits for it to
// drain the channel.
func (q *Queue) Close() {
	close(q.sendCh)
	<-q.done
}

// Depth returns the number of messages currently buffered, for the
// ambient queue-depth gauge and the status endpoint.
func (q *Queue) Depth() int {
	return len(q.sendCh)
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-q.sendCh:
			if !ok {
				return
			}
			q.handle(ctx, msg)
		}
	}
}

func (q *Queue) handle(ctx context.Context, msg Message) {
	cfg := q.configs()

	if !msg.Test && cfg.EnableNotificationQuietHours {
		if delay, quiet := quietHoursDelay(time.Now(), cfg.QuietHoursStart, cfg.QuietHoursEnd); quiet {
			slog.Info("notify: quiet hours active, rescheduling", slog.Duration("delay", delay))
			go func() {
				select {
				case <-ctx.Done():
				case <-time.After(delay):
					q.Enqueue(msg)
				}
			}()
			q.sleepInterval(cfg)
			return
		}
	}

	q.dispatch(ctx, msg)
	q.sleepInterval(cfg)
}

func (q *Queue) sleepInterval(cfg model.Config) {
	interval := clamp(cfg.NotificationInterval, 1, 60)
	time.Sleep(time.Duration(interval) * time.Second)
}

func clamp(v uint64, lo, hi uint64) uint64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// quietHoursDelay reports whether now's local hour falls in [start, end),
// wrapping past midnight when start > end, and if so the delay until the
// next end:00 local timestamp.
func quietHoursDelay(now time.Time, start, end uint8) (time.Duration, bool) {
	hour := uint8(now.Hour())
	var inWindow bool
	if start > end {
		inWindow = hour >= start || hour < end
	} else {
		inWindow = hour >= start && hour < end
	}
	if !inWindow {
		return 0, false
	}

	target := time.Date(now.Year(), now.Month(), now.Day(), int(end), 0, 0, 0, now.Location())
	if start > end && hour >= start {
		target = target.AddDate(0, 0, 1)
	}
	delay := target.Sub(now)
	if delay <= 0 {
		return 0, false
	}
	return delay, true
}

// dispatch fans msg out to every configured channel concurrently, applying
// the per-channel dedup cache (bypassed for Test messages).
func (q *Queue) dispatch(ctx context.Context, msg Message) {
	ctx, span := telemetry.StartSpan(ctx, "notify", "dispatch", attribute.Int("notifiers", len(msg.Notifiers)))
	defer span.End()

	sentAt := time.Now()
	var wg sync.WaitGroup
	var mu sync.Mutex
	var anyFailed bool
	body := dedupBody(msg)
	for _, n := range msg.Notifiers {
		n := n
		key := cacheKey(n)
		if !msg.Test && q.isDuplicate(key, body) {
			slog.Info("notify: duplicate message suppressed", slog.String("channel", key))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.send(ctx, n, msg, sentAt); err != nil {
				slog.Error("notify: send failed", slog.String("channel", key), slog.Any("err", err))
				mu.Lock()
				anyFailed = true
				mu.Unlock()
				telemetry.RecordError(span, err)
				return
			}
			if !msg.Test {
				q.remember(key, body)
			}
		}()
	}
	wg.Wait()
	if !anyFailed {
		telemetry.SetSpanSuccess(span)
	}
}

func (q *Queue) send(ctx context.Context, n model.Notifier, msg Message, sentAt time.Time) error {
	created := msg.CreatedAt.Format(timeLayout)
	sent := sentAt.Format(timeLayout)
	switch n.Kind {
	case model.NotifierTelegram:
		return sendTelegram(ctx, q.httpClient, n.BotToken, n.ChatID, msg.Message, created, sent)
	case model.NotifierWebhook:
		return sendWebhook(ctx, q.httpClient, n.URL, n.Template, msg.Message, created, sent)
	default:
		return nil
	}
}

// dedupBody is the value compared under a channel's cache key: the trimmed
// message text, independent of timestamps (which differ on every send and
// would otherwise defeat deduplication entirely).
func dedupBody(msg Message) string {
	return strings.TrimSpace(msg.Message)
}

func cacheKey(n model.Notifier) string {
	switch n.Kind {
	case model.NotifierTelegram:
		return "telegram:" + n.BotToken + ":" + n.ChatID
	case model.NotifierWebhook:
		return "webhook:" + n.URL
	default:
		return "unknown"
	}
}

func (q *Queue) isDuplicate(key, body string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	prev, ok := q.lastSet[key]
	return ok && prev == body
}

func (q *Queue) remember(key, body string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastSet[key] = body
}
