package orderstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/joao-fontenele/orderdesk/internal/domain"
)

// ChangeHandler receives one change event. Calls are sequential and happen on
// the subscription's own goroutine.
type ChangeHandler func(ctx context.Context, event domain.ChangeEvent)

type subscribeConfig struct {
	onError     func(error)
	onReconnect func()
}

type SubscribeOption func(*subscribeConfig)

// OnError receives payloads that failed validation (*domain.DataIntegrityError)
// and feed interruptions (*domain.TransportError). The default logs them.
func OnError(fn func(error)) SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.onError = fn
	}
}

// OnReconnect is called after the feed has been re-established. Events that
// happened while disconnected are not replayed, so callers that need a
// consistent view should list orders again from here.
func OnReconnect(fn func()) SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.onReconnect = fn
	}
}

// Subscription is a live change stream on the orders table. It holds until
// Unsubscribe is called; nothing else releases it.
type Subscription struct {
	handler        ChangeHandler
	dial           FeedDialer
	cfg            subscribeConfig
	logger         *slog.Logger
	reconnectDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type handlerKey struct{}

// Subscribe connects to the change feed and calls handler once per change
// event while connected. The returned error is a *domain.ConfigError when no
// feed is configured and a *domain.TransportError when the first connection
// fails. Cancelling ctx after Subscribe returns does not end the subscription.
func (c *Client) Subscribe(ctx context.Context, handler ChangeHandler, opts ...SubscribeOption) (*Subscription, error) {
	if handler == nil {
		return nil, &domain.ValidationError{Field: "handler", Value: "<nil>", Reason: "is required"}
	}
	if c.dialFeed == nil {
		return nil, &domain.ConfigError{Key: "change feed", Reason: "is not configured"}
	}

	var feed ChangeFeed
	err := c.observe(ctx, "subscribe", func(ctx context.Context) error {
		var err error
		feed, err = c.dialFeed(ctx)
		if err != nil {
			return &domain.TransportError{Op: "subscribe", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Subscription{
		handler:        handler,
		dial:           c.dialFeed,
		logger:         c.logger,
		reconnectDelay: c.reconnectDelay,
		ctx:            subCtx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(&s.cfg)
	}
	if s.cfg.onError == nil {
		s.cfg.onError = func(err error) {
			s.logger.Error("order change feed error", "error", err)
		}
	}

	go s.run(feed)

	c.logger.Info("subscribed to order changes")
	return s, nil
}

// Unsubscribe stops delivery. Once it returns nil the handler will not be
// called again. It may be called more than once, and from inside the handler
// provided the handler's ctx is passed; in that case it does not wait for the
// running call to finish. If ctx ends first, ctx.Err() is returned and the
// subscription is still shutting down.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	s.cancel()

	if owner, ok := ctx.Value(handlerKey{}).(*Subscription); ok && owner == s {
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the subscription goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) run(feed ChangeFeed) {
	defer close(s.done)

	for {
		err := feed.Consume(s.ctx, s.deliver)
		_ = feed.Close()
		if s.ctx.Err() != nil {
			return
		}

		s.cfg.onError(&domain.TransportError{Op: "order change feed", Err: err})

		feed = s.reconnect()
		if feed == nil {
			return
		}
		s.logger.Info("order change feed reconnected")
		if s.cfg.onReconnect != nil {
			s.cfg.onReconnect()
		}
	}
}

// reconnect redials until it succeeds or the subscription is cancelled, in
// which case it returns nil.
func (s *Subscription) reconnect() ChangeFeed {
	timer := time.NewTimer(s.reconnectDelay)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case <-timer.C:
		}

		feed, err := s.dial(s.ctx)
		if err == nil {
			if s.ctx.Err() != nil {
				_ = feed.Close()
				return nil
			}
			return feed
		}
		if errors.Is(err, context.Canceled) && s.ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("order change feed reconnect failed", "error", err, "retry_in", s.reconnectDelay)
		timer.Reset(s.reconnectDelay)
	}
}

func (s *Subscription) deliver(ctx context.Context, payload []byte) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}

	event, err := domain.DecodeChangeEvent(payload)
	if err != nil {
		s.cfg.onError(err)
		return nil
	}

	s.handler(context.WithValue(ctx, handlerKey{}, s), event)
	return nil
}
