package ws

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"mediconnect-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	logger.Sugar = logger.Log.Sugar()
	os.Exit(m.Run())
}

func TestBridgeStopsWhenLastClientLeaves(t *testing.T) {
	// The address is never reachable; go-redis only dials lazily, so the
	// bridge goroutine starts and idles without traffic.
	hub := NewChatHub(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), nil, nil)

	conversationID := uuid.New()
	client := &Client{
		hub:            hub,
		send:           make(chan []byte, 8),
		userID:         uuid.New(),
		conversationID: conversationID,
	}

	hub.register <- client

	var stop chan struct{}
	assert.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		stop = hub.bridges[conversationID]
		return stop != nil
	}, time.Second, 10*time.Millisecond)

	hub.unregister <- client

	// The bridge is signalled immediately, without waiting for the next
	// published message.
	select {
	case <-stop:
	case <-time.After(time.Second):
		t.Fatal("bridge was not stopped after the last client left")
	}

	assert.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		_, ok := hub.conversations[conversationID]
		return !ok
	}, time.Second, 10*time.Millisecond)
}
