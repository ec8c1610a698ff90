package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedServer(t *testing.T, frames []feedFrame) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/feed", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("mill"))
		assert.NotEmpty(t, r.URL.Query().Get("subscription"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for _, frame := range frames {
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
}

func TestFeedSubscribe(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	srv := feedServer(t, []feedFrame{
		{Type: "sample", ID: "Ore", Value: 75.2, Timestamp: now},
		{Type: "heartbeat"}, // unknown frame types are skipped
		{Type: "sample", ID: "Shisti", Value: 0.41, Timestamp: now.Add(time.Second)},
	})
	defer srv.Close()

	feed := NewFeed("", srv.URL)
	var got []Sample
	err := feed.Subscribe(context.Background(), "Mill01", func(s Sample) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err, "normal closure ends the subscription cleanly")

	require.Len(t, got, 2)
	assert.Equal(t, "Ore", got[0].ID)
	assert.Equal(t, 75.2, got[0].Value)
	assert.True(t, got[0].Timestamp.Equal(now))
	assert.Equal(t, "Shisti", got[1].ID)
}

func TestFeedSubscribeCancelled(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Hold the connection open without sending anything.
		conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	feed := NewFeed("", srv.URL)
	err := feed.Subscribe(ctx, "Mill01", func(Sample) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFeedCallbackErrorStopsSubscription(t *testing.T) {
	now := time.Now()
	srv := feedServer(t, []feedFrame{
		{Type: "sample", ID: "Ore", Value: 1, Timestamp: now},
		{Type: "sample", ID: "Ore", Value: 2, Timestamp: now.Add(time.Second)},
	})
	defer srv.Close()

	feed := NewFeed("", srv.URL)
	calls := 0
	err := feed.Subscribe(context.Background(), "Mill01", func(Sample) error {
		calls++
		return context.Canceled
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
