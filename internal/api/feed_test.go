package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/terminal-bench/vitalguard/pkg/incident"
	"github.com/terminal-bench/vitalguard/pkg/messaging"
)

func TestFeed(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newServer := func(feed *Feed) *httptest.Server {
		r := gin.New()
		r.GET("/stream", feed.ServeWS)
		return httptest.NewServer(r)
	}

	t.Run("should stream notices to a connected client", func(t *testing.T) {
		feed := NewFeed(zap.NewNop())
		srv := newServer(feed)
		defer srv.Close()

		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Subscription happens inside ServeWS; give the handler a beat
		require.Eventually(t, func() bool {
			feed.mu.RLock()
			defer feed.mu.RUnlock()
			return len(feed.subscribers) == 1
		}, time.Second, 5*time.Millisecond)

		feed.Publish(messaging.EventNotice{
			EventID:   "ev-1",
			EventType: incident.EventDatabaseFailure,
			Severity:  incident.SeverityCritical,
			Status:    incident.StatusDetected,
		})

		conn.SetReadDeadline(time.Now().Add(time.Second))
		var notice messaging.EventNotice
		require.NoError(t, conn.ReadJSON(&notice))
		assert.Equal(t, "ev-1", notice.EventID)
		assert.Equal(t, incident.EventDatabaseFailure, notice.EventType)
	})

	t.Run("should drop notices for slow consumers instead of blocking", func(t *testing.T) {
		feed := NewFeed(zap.NewNop())
		srv := newServer(feed)
		defer srv.Close()

		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.Eventually(t, func() bool {
			feed.mu.RLock()
			defer feed.mu.RUnlock()
			return len(feed.subscribers) == 1
		}, time.Second, 5*time.Millisecond)

		done := make(chan struct{})
		go func() {
			defer close(done)
			// Far more notices than the subscriber buffer holds
			for i := 0; i < 1000; i++ {
				feed.Publish(messaging.EventNotice{EventID: "flood", Status: incident.StatusDetected})
			}
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("publish blocked on a slow consumer")
		}
	})

	t.Run("should unsubscribe on client disconnect", func(t *testing.T) {
		feed := NewFeed(zap.NewNop())
		srv := newServer(feed)
		defer srv.Close()

		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			feed.mu.RLock()
			defer feed.mu.RUnlock()
			return len(feed.subscribers) == 1
		}, time.Second, 5*time.Millisecond)

		conn.Close()

		assert.Eventually(t, func() bool {
			feed.mu.RLock()
			defer feed.mu.RUnlock()
			return len(feed.subscribers) == 0
		}, time.Second, 5*time.Millisecond)
	})
}
