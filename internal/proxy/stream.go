// Package proxy relays a backend WebSocket product feed into an
// incrementally flushed HTTP response body.
package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vyrodovalexey/streamgw/internal/observability"
	"github.com/vyrodovalexey/streamgw/internal/routing"
)

// ErrBackendUnavailable indicates the backend WebSocket dial failed
// before anything was written to the client, so the caller may still
// send an error status.
var ErrBackendUnavailable = errors.New("backend unavailable")

// defaultDialTimeout bounds the backend WebSocket handshake.
const defaultDialTimeout = 10 * time.Second

// StreamProxy dials route backends and relays their frames to clients.
type StreamProxy struct {
	dialer  *websocket.Dialer
	logger  observability.Logger
	metrics *observability.GatewayMetrics
}

// New creates a StreamProxy with its own dialer.
func New(logger observability.Logger) *StreamProxy {
	return &StreamProxy{
		dialer: &websocket.Dialer{
			HandshakeTimeout: defaultDialTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		logger:  logger,
		metrics: observability.GetGatewayMetrics(),
	}
}

// backendURL builds the WebSocket URL for a route's product feed. An
// address without a scheme is treated as host:port.
func backendURL(route routing.Route, merchant string) string {
	addr := route.Address
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	return strings.TrimSuffix(addr, "/") + "/" + merchant + "/products"
}

// Stream opens the backend feed for the route and copies its frames to
// the response, flushing after every frame so the client sees each one
// as it arrives. It commits a 200 text/html response only after the
// backend handshake succeeds; a failed dial returns
// ErrBackendUnavailable with the response untouched.
//
// The relay ends when the backend closes the feed (nil) or the client
// goes away (request context cancelled, also nil). Either way the
// backend connection is closed before Stream returns.
func (p *StreamProxy) Stream(w http.ResponseWriter, r *http.Request, route routing.Route, merchant string) error {
	ctx := r.Context()
	target := backendURL(route, merchant)

	conn, resp, err := p.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		p.logger.Warn("backend dial failed",
			observability.String("backend", target),
			observability.Error(err))
		return fmt.Errorf("%w: dial %s: %v", ErrBackendUnavailable, target, err)
	}
	defer conn.Close()

	// The client vanishing must promptly tear down the backend feed.
	// Closing the connection unblocks the ReadMessage below.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-watchDone:
		}
	}()

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		return fmt.Errorf("response not streamable: %w", err)
	}

	p.metrics.StreamStarted()
	defer p.metrics.StreamEnded()
	p.logger.Info("stream opened",
		observability.String("backend", target),
		observability.String("merchant", merchant))

	var frames int64
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("client disconnected",
					observability.Int64("frames", frames))
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Info("backend closed stream",
					observability.Int64("frames", frames))
				return nil
			}
			p.logger.Warn("stream aborted",
				observability.Int64("frames", frames),
				observability.Error(err))
			return nil
		}

		if _, err := w.Write(frame); err != nil {
			p.logger.Debug("client write failed", observability.Error(err))
			return nil
		}
		if err := rc.Flush(); err != nil {
			p.logger.Debug("client flush failed", observability.Error(err))
			return nil
		}

		frames++
		p.metrics.RecordFrame(len(frame))
	}
}
