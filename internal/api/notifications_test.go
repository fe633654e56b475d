package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/internal/auth"
	"github.com/bookbridge/storefront-adapter/internal/notify"
)

type countingCounter struct {
	n atomic.Int64
}

func (c *countingCounter) NotificationCount(context.Context, auth.Credential) (int64, error) {
	return c.n.Load(), nil
}

func newSocketServer(t *testing.T, counter notify.Counter, origins []string) (*httptest.Server, *notify.Poller) {
	t.Helper()
	poller := notify.NewPoller(zap.NewNop(), counter, 20*time.Millisecond)
	t.Cleanup(poller.Stop)
	sock := NewNotificationsSocket(zap.NewNop(), auth.NewParser(testSecret), poller, origins)
	srv := httptest.NewServer(sock.Handler())
	t.Cleanup(srv.Close)
	return srv, poller
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + NotificationsPath
}

func TestNotificationsSocket_PushesChanges(t *testing.T) {
	counter := &countingCounter{}
	counter.n.Store(3)
	srv, poller := newSocketServer(t, counter, nil)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+tokenFor(t, "7", ""))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg CountMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "unread_count", msg.Type)
	assert.Equal(t, int64(3), msg.Count)

	counter.n.Store(5)
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, int64(5), msg.Count)
	assert.Equal(t, 1, poller.Active())
}

func TestNotificationsSocket_DisconnectStopsPolling(t *testing.T) {
	srv, poller := newSocketServer(t, &countingCounter{}, nil)

	header := http.Header{}
	header.Set("Cookie", (&http.Cookie{Name: AccessTokenCookie, Value: tokenFor(t, "7", "")}).String())
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.NoError(t, err)

	var msg CountMessage
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, 1, poller.Active())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return poller.Active() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestNotificationsSocket_RequiresCredential(t *testing.T) {
	srv, poller := newSocketServer(t, &countingCounter{}, nil)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, poller.Active())
}

func TestNotificationsSocket_QueryTokenRejected(t *testing.T) {
	srv, poller := newSocketServer(t, &countingCounter{}, nil)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token="+tokenFor(t, "7", ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, poller.Active())
}

func TestNotificationsSocket_OriginAllowList(t *testing.T) {
	srv, _ := newSocketServer(t, &countingCounter{}, []string{"https://shop.example"})

	header := http.Header{}
	header.Set("Authorization", "Bearer "+tokenFor(t, "7", ""))
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
