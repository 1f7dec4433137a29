package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gharsathi/internal/domain"
	"gharsathi/internal/events"
	"gharsathi/internal/logging"
	"gharsathi/internal/metrics"
	"gharsathi/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Outbox is the durable store the worker drains.
type Outbox interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetPendingNotifications(ctx context.Context, limit int) ([]models.Notification, error)
	UpdateNotificationStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// Sink delivers one rendered notification to a resolved recipient.
type Sink interface {
	Deliver(ctx context.Context, recipient *models.Actor, n *models.Notification) error
}

// ErrUndeliverable marks failures that retrying cannot fix.
var ErrUndeliverable = errors.New("notification undeliverable")

// Options tune the worker. Zero values fall back to defaults.
type Options struct {
	QueueSize     int
	PollInterval  time.Duration
	BatchSize     int
	RedisQueueKey string
	DeadLetterKey string
}

// NotificationWorker turns booking events into per-party notifications, stores
// them in the outbox and delivers them through a sink with retries.
type NotificationWorker struct {
	outbox        Outbox
	sink          Sink
	identities    domain.IdentityLookup
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.Notification
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

func NewNotificationWorker(outbox Outbox, sink Sink, identities domain.IdentityLookup, redisClient *redis.Client, retry RetryPolicy, opts Options, logger *zerolog.Logger) *NotificationWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 5 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = models.NotificationQueueSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.RedisQueueKey == "" {
		opts.RedisQueueKey = "notifications:queue"
	}
	if opts.DeadLetterKey == "" {
		opts.DeadLetterKey = "notifications:deadletter"
	}

	return &NotificationWorker{
		outbox:        outbox,
		sink:          sink,
		identities:    identities,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.Notification, opts.QueueSize),
		redisQueueKey: opts.RedisQueueKey,
		deadLetterKey: opts.DeadLetterKey,
		pollInterval:  opts.PollInterval,
		batchSize:     opts.BatchSize,
		logger:        logging.ForComponent(logger, "notification_worker"),
	}
}

// Subscribe attaches the worker to every booking event on the bus.
func (w *NotificationWorker) Subscribe(bus *events.EventBus) {
	bus.SubscribeAll(events.AllBookingEvents, w.HandleEvent)
}

// HandleEvent fans an event out to the booking parties other than the actor.
func (w *NotificationWorker) HandleEvent(event *events.Event) error {
	var payload events.BookingEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		w.logger.Error().Err(err).Str("event_type", event.Type).Msg("decode event payload")
		return err
	}

	ctx := context.Background()
	var firstErr error
	for _, recipient := range payload.Recipients() {
		err := w.Enqueue(ctx, models.Notification{
			EventType:   event.Type,
			BookingID:   payload.BookingID,
			RecipientID: recipient,
			Payload:     string(event.Payload),
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Enqueue persists n to the outbox and schedules it via redis or the in-memory queue.
func (w *NotificationWorker) Enqueue(ctx context.Context, n models.Notification) error {
	if n.EventType == "" {
		return errors.New("event type is required")
	}
	if n.BookingID == "" || n.RecipientID == "" {
		return errors.New("booking id and recipient are required")
	}
	n.Status = models.NotificationPending

	if err := w.outbox.CreateNotification(ctx, &n); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	// Try redis first for durability.
	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, &n); err != nil {
			w.logger.Warn().Err(err).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- n:
	default:
		w.logger.Warn().Int64("notification_id", n.ID).Msg("in-memory queue full, left to polling")
	}
	return nil
}

// Start launches the main loop; it stops when ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("notification worker started")
	defer w.logger.Info().Msg("notification worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if n, ok := w.tryLocalQueue(); ok {
			w.process(ctx, &n)
			continue
		}

		if n, ok := w.tryRedis(ctx); ok {
			w.process(ctx, &n)
			continue
		}

		pending, err := w.outbox.GetPendingNotifications(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch pending notifications")
			w.sleep(ctx)
			continue
		}
		if len(pending) == 0 {
			w.sleep(ctx)
			continue
		}

		for i := range pending {
			w.process(ctx, &pending[i])
		}
	}
}

func (w *NotificationWorker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.pollInterval):
	}
}

func (w *NotificationWorker) tryLocalQueue() (models.Notification, bool) {
	select {
	case n := <-w.queue:
		return n, true
	default:
		return models.Notification{}, false
	}
}

func (w *NotificationWorker) tryRedis(ctx context.Context) (models.Notification, bool) {
	if w.redis == nil {
		return models.Notification{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
			return models.Notification{}, false
		}
		w.logger.Error().Err(err).Msg("redis BRPOP error")
		return models.Notification{}, false
	}
	if len(res) != 2 {
		return models.Notification{}, false
	}
	var n models.Notification
	if err := json.Unmarshal([]byte(res[1]), &n); err != nil {
		w.logger.Error().Err(err).Msg("decode redis notification")
		return models.Notification{}, false
	}
	return n, true
}

func (w *NotificationWorker) process(ctx context.Context, n *models.Notification) {
	recipient, err := w.identities.GetActor(ctx, n.RecipientID)
	if err != nil {
		if errors.Is(err, models.ErrActorNotFound) {
			w.fail(ctx, n, err)
			return
		}
		w.retryOrFail(ctx, n, err)
		return
	}

	if err := w.sink.Deliver(ctx, recipient, n); err != nil {
		if errors.Is(err, ErrUndeliverable) {
			w.fail(ctx, n, err)
			return
		}
		w.retryOrFail(ctx, n, err)
		return
	}

	metrics.IncNotification(models.NotificationDelivered)
	if err := w.outbox.UpdateNotificationStatus(ctx, n.ID, models.NotificationDelivered, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("mark delivered")
	}
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, n *models.Notification, cause error) {
	attempt := n.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.fail(ctx, n, cause)
		return
	}

	metrics.IncNotification(models.NotificationRetry)
	nextTime := w.retryPolicy.NextAttemptAt(time.Now(), attempt)
	if err := w.outbox.UpdateNotificationStatus(ctx, n.ID, models.NotificationRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("mark retry")
	}
}

func (w *NotificationWorker) fail(ctx context.Context, n *models.Notification, cause error) {
	metrics.IncNotification(models.NotificationFailed)
	w.logger.Warn().Err(cause).Int64("notification_id", n.ID).Str("booking_id", n.BookingID).Msg("notification dead-lettered")
	if err := w.outbox.UpdateNotificationStatus(ctx, n.ID, models.NotificationFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("mark failed")
	}
	if w.redis != nil {
		if err := w.pushRedis(ctx, w.deadLetterKey, n); err != nil {
			w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("deadletter push")
		}
	}
}

func (w *NotificationWorker) pushRedis(ctx context.Context, key string, n *models.Notification) error {
	if w.redis == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}
