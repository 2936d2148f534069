// Package configsync keeps the routing table consistent with the backing
// store: one full load at startup, then a long-lived change feed
// subscription applying events strictly in delivery order.
package configsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/streamgw/internal/observability"
	"github.com/vyrodovalexey/streamgw/internal/routing"
	"github.com/vyrodovalexey/streamgw/internal/store"
)

// ErrFeedClosed indicates that the change feed subscription was lost.
// The routing table freezes at its last applied state; there is no
// automatic resubscription.
var ErrFeedClosed = errors.New("change feed closed")

// unsubscribeTimeout bounds the unsubscribe command issued during
// teardown, whose parent context is already cancelled.
const unsubscribeTimeout = 5 * time.Second

// Syncer applies the persisted route set and the change feed to a
// routing table. It is the table's only writer.
type Syncer struct {
	store    *store.Store
	table    *routing.Table
	channel  string
	logger   observability.Logger
	metrics  *observability.GatewayMetrics
	feedLive atomic.Bool
}

// New creates a Syncer subscribing to the given feed channel.
func New(st *store.Store, table *routing.Table, channel string, logger observability.Logger) *Syncer {
	return &Syncer{
		store:   st,
		table:   table,
		channel: channel,
		logger:  logger,
		metrics: observability.GetGatewayMetrics(),
	}
}

// Load performs the full synchronous route load. It must complete before
// the gateway starts accepting requests.
func (s *Syncer) Load(ctx context.Context) error {
	routes, err := s.store.LoadRoutes(ctx)
	if err != nil {
		return fmt.Errorf("full route load failed: %w", err)
	}

	s.table.Load(routes)
	s.metrics.SetRoutesLoaded(s.table.Len())

	s.logger.Info("routing table loaded",
		observability.Int("routes", len(routes)))
	return nil
}

// Run subscribes to the change feed and applies events until the context
// is cancelled or the feed is lost. It returns nil on cancellation and
// ErrFeedClosed when the subscription dies; in both cases the
// subscription has been released before Run returns, so the store may be
// closed afterwards without racing it.
func (s *Syncer) Run(ctx context.Context) error {
	sub := s.store.Subscribe(ctx, s.channel)

	// Teardown order matters: unsubscribe, then close the subscription.
	// The store connection itself is closed later by the store's owner.
	// Closing also unblocks a pending ReceiveMessage, so this doubles as
	// the cancellation handler; sync.Once keeps the cancel path and the
	// return path from tearing down twice.
	var once sync.Once
	teardown := func() {
		once.Do(func() {
			unsubCtx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
			defer cancel()
			if err := sub.Unsubscribe(unsubCtx, s.channel); err != nil {
				s.logger.Debug("unsubscribe failed", observability.Error(err))
			}
			if err := sub.Close(); err != nil {
				s.logger.Debug("subscription close failed", observability.Error(err))
			}
		})
	}
	stopWatch := context.AfterFunc(ctx, teardown)
	defer func() {
		stopWatch()
		teardown()
		s.setFeedLive(false)
	}()

	// Wait for the subscription confirmation so that no event published
	// after this point is missed.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: subscribe failed: %v", ErrFeedClosed, err)
	}

	s.setFeedLive(true)
	s.logger.Info("change feed subscribed",
		observability.String("channel", s.channel))

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("change feed stopping")
				return nil
			}
			// Feed loss is fatal to the sync task: the table freezes at
			// its last known state until the process restarts.
			s.logger.Error("change feed lost, routing table is frozen",
				observability.String("channel", s.channel),
				observability.Error(err))
			return fmt.Errorf("%w: %v", ErrFeedClosed, err)
		}

		s.apply(msg.Payload)
	}
}

// apply decodes one feed payload and mutates the table. Undecodable
// payloads are logged and skipped; they cannot be applied in any order.
func (s *Syncer) apply(payload string) {
	event, err := routing.ParseChangeEvent([]byte(payload))
	if err != nil {
		s.logger.Warn("ignoring bad change event",
			observability.Error(err))
		return
	}

	switch event.Action {
	case routing.ActionDelete:
		s.table.Remove(event.Data.Merchant, event.Data.Channel)
	default:
		s.table.Upsert(event.Data.Route())
	}

	s.metrics.RecordSyncEvent(event.Action)
	s.metrics.SetRoutesLoaded(s.table.Len())

	s.logger.Debug("change event applied",
		observability.String("action", event.Action),
		observability.String("merchant", event.Data.Merchant),
		observability.String("channel", event.Data.Channel))
}

// FeedLive reports whether the change feed subscription is currently up.
func (s *Syncer) FeedLive() bool {
	return s.feedLive.Load()
}

func (s *Syncer) setFeedLive(live bool) {
	s.feedLive.Store(live)
	s.metrics.SetFeedConnected(live)
}
