package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"farmgate/internal/model"
)

const (
	feedBackoffMin = 500 * time.Millisecond
	feedBackoffMax = 30 * time.Second
)

// pgChangeFeed listens on the channel the configs trigger notifies.
type pgChangeFeed struct {
	dsn     string
	channel string
	logger  *zap.Logger
}

func NewPGChangeFeed(dsn, channel string, logger *zap.Logger) ChangeFeed {
	return &pgChangeFeed{dsn: dsn, channel: channel, logger: logger.Named("changefeed")}
}

func (f *pgChangeFeed) Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error) {
	conn, err := f.listen(ctx)
	if err != nil {
		return nil, err
	}
	events := make(chan model.ChangeEvent, 64)
	go f.run(ctx, conn, events)
	return events, nil
}

func (f *pgChangeFeed) listen(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, f.dsn)
	if err != nil {
		return nil, fmt.Errorf("connect change feed: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", f.channel, err)
	}
	return conn, nil
}

func (f *pgChangeFeed) run(ctx context.Context, conn *pgx.Conn, events chan<- model.ChangeEvent) {
	defer close(events)
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn("change feed interrupted, reconnecting", zap.Error(err))
			_ = conn.Close(context.Background())
			conn = f.reconnect(ctx)
			if conn == nil {
				return
			}
			// Notifications sent while disconnected are lost.
			if !send(ctx, events, model.ChangeEvent{Op: model.ChangeResync}) {
				return
			}
			continue
		}

		var ev model.ChangeEvent
		if err := sonic.ConfigStd.UnmarshalFromString(n.Payload, &ev); err != nil {
			f.logger.Error("malformed change notification", zap.String("payload", n.Payload), zap.Error(err))
			continue
		}
		if !send(ctx, events, ev) {
			return
		}
	}
}

func (f *pgChangeFeed) reconnect(ctx context.Context) *pgx.Conn {
	backoff := feedBackoffMin
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		conn, err := f.listen(ctx)
		if err == nil {
			f.logger.Info("change feed reconnected")
			return conn
		}
		f.logger.Warn("change feed reconnect failed", zap.Duration("backoff", backoff), zap.Error(err))
		backoff *= 2
		if backoff > feedBackoffMax {
			backoff = feedBackoffMax
		}
	}
}

func send(ctx context.Context, events chan<- model.ChangeEvent, ev model.ChangeEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
