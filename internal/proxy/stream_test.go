package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/streamgw/internal/observability"
	"github.com/vyrodovalexey/streamgw/internal/routing"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newBackend starts a WebSocket server running handle for each feed
// connection and returns its host:port address.
func newBackend(t *testing.T, handle func(*websocket.Conn, *http.Request)) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(srv.Close)

	return strings.TrimPrefix(srv.URL, "http://")
}

// newGateway wraps the proxy in an HTTP server streaming the given
// route, and returns the server plus a channel with Stream's result.
func newGateway(t *testing.T, p *StreamProxy, route routing.Route, merchant string) (*httptest.Server, chan error) {
	t.Helper()

	errs := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := p.Stream(w, r, route, merchant)
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
		}
		errs <- err
	}))
	t.Cleanup(srv.Close)

	return srv, errs
}

func TestBackendURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ws://backend-1:9000/acme/products",
		backendURL(routing.Route{Address: "backend-1:9000"}, "acme"))
	assert.Equal(t, "ws://backend-1:9000/acme/products",
		backendURL(routing.Route{Address: "ws://backend-1:9000/"}, "acme"))
	assert.Equal(t, "wss://backend-1:9000/acme/products",
		backendURL(routing.Route{Address: "wss://backend-1:9000"}, "acme"))
}

func TestStreamProxy_RelaysFramesIncrementally(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	addr := newBackend(t, func(conn *websocket.Conn, r *http.Request) {
		assert.Equal(t, "/acme/products", r.URL.Path)

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("<p>one</p>")))
		<-release
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("<p>two</p>")))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	p := New(observability.NopLogger())
	srv, errs := newGateway(t, p, routing.Route{Address: addr}, "acme")

	resp, err := http.Get(srv.URL + "/products/acme")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))

	// The first frame must arrive before the backend produces the second,
	// proving the body is flushed per frame rather than buffered.
	first := make([]byte, len("<p>one</p>"))
	_, err = io.ReadFull(resp.Body, first)
	require.NoError(t, err)
	assert.Equal(t, "<p>one</p>", string(first))

	close(release)

	rest, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "<p>two</p>", string(rest))

	require.NoError(t, <-errs)
}

func TestStreamProxy_BackendDialFailure(t *testing.T) {
	t.Parallel()

	p := New(observability.NopLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/products/acme", nil)

	// Nothing is listening on this address.
	err := p.Stream(rec, req, routing.Route{Address: "127.0.0.1:1"}, "acme")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	// The response was not committed, so the caller can still set a status.
	assert.Zero(t, rec.Body.Len())
}

func TestStreamProxy_ClientDisconnectClosesBackend(t *testing.T) {
	t.Parallel()

	backendGone := make(chan struct{})
	addr := newBackend(t, func(conn *websocket.Conn, r *http.Request) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("<p>one</p>")))
		// Block reading until the gateway closes the feed.
		_, _, _ = conn.ReadMessage()
		close(backendGone)
	})

	p := New(observability.NopLogger())
	srv, errs := newGateway(t, p, routing.Route{Address: addr}, "acme")

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/products/acme", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	first := make([]byte, len("<p>one</p>"))
	_, err = io.ReadFull(resp.Body, first)
	require.NoError(t, err)

	cancel()

	select {
	case <-backendGone:
	case <-time.After(3 * time.Second):
		t.Fatal("backend connection was not closed after client disconnect")
	}

	require.NoError(t, <-errs)
}

func TestStreamProxy_BackendCloseEndsStream(t *testing.T) {
	t.Parallel()

	addr := newBackend(t, func(conn *websocket.Conn, r *http.Request) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	})

	p := New(observability.NopLogger())
	srv, errs := newGateway(t, p, routing.Route{Address: addr}, "acme")

	resp, err := http.Get(srv.URL + "/products/acme")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, <-errs)
}
