package api

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/terminal-bench/vitalguard/pkg/messaging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Feed fans event lifecycle notices out to connected websocket observers.
// It is a read-only window onto the incident stream; there is no
// interactive recovery over it.
type Feed struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]chan messaging.EventNotice
	logger      *zap.Logger
}

func NewFeed(logger *zap.Logger) *Feed {
	return &Feed{
		subscribers: make(map[uuid.UUID]chan messaging.EventNotice),
		logger:      logger,
	}
}

// Publish delivers a notice to every subscriber without blocking; slow
// consumers miss notices rather than stalling the orchestrator
func (f *Feed) Publish(notice messaging.EventNotice) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, ch := range f.subscribers {
		select {
		case ch <- notice:
		default:
		}
	}
}

func (f *Feed) subscribe() (uuid.UUID, chan messaging.EventNotice) {
	id := uuid.New()
	ch := make(chan messaging.EventNotice, 16)

	f.mu.Lock()
	f.subscribers[id] = ch
	f.mu.Unlock()

	return id, ch
}

func (f *Feed) unsubscribe(id uuid.UUID) {
	f.mu.Lock()
	delete(f.subscribers, id)
	f.mu.Unlock()
}

// ServeWS upgrades the connection and streams notices until the client
// disconnects
func (f *Feed) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id, ch := f.subscribe()
	defer f.unsubscribe(id)

	// Reader goroutine detects client disconnect
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case notice := <-ch:
			if err := conn.WriteJSON(notice); err != nil {
				return
			}
		}
	}
}
