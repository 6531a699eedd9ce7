package livefeed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ticketeer/internal/tickets/models"
	id "ticketeer/pkg/domain"
)

func TestHubDeliversPerEvent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	eventA, eventB := id.NewEventID(), id.NewEventID()

	chA, err := hub.Subscribe(ctx, eventA)
	require.NoError(t, err)
	chB, err := hub.Subscribe(ctx, eventB)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers(eventA))

	require.NoError(t, hub.Publish(ctx, models.FeedMessage{Kind: models.FeedCheckedIn, EventID: eventA, HolderName: "Ana"}))

	select {
	case msg := <-chA:
		assert.Equal(t, "Ana", msg.HolderName)
	case <-time.After(time.Second):
		t.Fatal("no message for subscribed event")
	}
	select {
	case msg := <-chB:
		t.Fatalf("unexpected message %+v", msg)
	default:
	}

	cancel()
	_, open := <-chA
	assert.False(t, open)
	assert.Eventually(t, func() bool { return hub.Subscribers(eventA) == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eventID := id.NewEventID()

	ch, err := hub.Subscribe(ctx, eventID)
	require.NoError(t, err)
	for i := 0; i < bufferSize+10; i++ {
		require.NoError(t, hub.Publish(ctx, models.FeedMessage{EventID: eventID, CheckedIn: i}))
	}
	assert.Len(t, ch, bufferSize)
}

func TestStreamerRelaysMessages(t *testing.T) {
	hub := NewHub()
	eventID := id.NewEventID()
	streamer := NewStreamer(hub, slog.New(slog.NewTextHandler(io.Discard, nil)), "")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamer.Serve(w, r, eventID)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers(eventID) == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(context.Background(), models.FeedMessage{
		Kind: models.FeedCheckedIn, EventID: eventID, HolderName: "Bia", CheckedIn: 3, Issued: 10,
	}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got models.FeedMessage
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "Bia", got.HolderName)
	assert.Equal(t, 3, got.CheckedIn)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Subscribers(eventID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamerRejectsForeignOrigin(t *testing.T) {
	streamer := NewStreamer(NewHub(), slog.New(slog.NewTextHandler(io.Discard, nil)), "https://door.example.com")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamer.Serve(w, r, id.NewEventID())
	}))
	defer srv.Close()

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
