package postgres

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"

	"github.com/strideclub/tracker/internal/repository"
)

const (
	listenBackoffBase = time.Second
	listenBackoffCap  = 30 * time.Second
	eventBufferSize   = 32
)

// Listener turns PostgreSQL NOTIFY events on a channel into a ChangeFeed.
// Triggers installed by the migrations emit one payload per row mutation on
// the four tracked tables.
type Listener struct {
	pool    *pgxpool.Pool
	channel string
	events  chan repository.ChangeEvent
	logger  *slog.Logger
}

var _ repository.ChangeFeed = (*Listener)(nil)

// NewListener constructs a Listener on the given notification channel.
func NewListener(pool *pgxpool.Pool, channel string, logger *slog.Logger) *Listener {
	if logger != nil {
		logger = logger.With("component", "pg_listener")
	}
	return &Listener{
		pool:    pool,
		channel: channel,
		events:  make(chan repository.ChangeEvent, eventBufferSize),
		logger:  logger,
	}
}

// Events exposes the change stream.
func (l *Listener) Events() <-chan repository.ChangeEvent {
	return l.events
}

// Run listens until the context is cancelled, reconnecting with capped
// exponential backoff when the connection drops.
func (l *Listener) Run(ctx context.Context) error {
	backoff := retry.WithCappedDuration(listenBackoffCap, retry.NewExponential(listenBackoffBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := l.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if l.logger != nil {
				l.logger.Warn("notification stream dropped, reconnecting", "error", err)
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+l.channel); err != nil {
		return err
	}
	if l.logger != nil {
		l.logger.Info("listening for change notifications", "channel", l.channel)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.dispatch(notification.Payload)
	}
}

func (l *Listener) dispatch(payload string) {
	var event repository.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		if l.logger != nil {
			l.logger.Warn("discarding malformed change payload", "payload", payload, "error", err)
		}
		return
	}
	select {
	case l.events <- event:
	default:
		// Consumers debounce; a full buffer means a reload is already due.
	}
}
