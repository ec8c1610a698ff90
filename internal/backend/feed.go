package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Feed subscribes to the live time-series sample stream for a mill.
type Feed struct {
	endpoint string
}

// NewFeed creates a feed client. If feedURL is empty the websocket endpoint
// is derived from the backend base URL.
func NewFeed(feedURL, backendURL string) *Feed {
	endpoint := feedURL
	if endpoint == "" {
		endpoint = backendURL
	}
	endpoint = strings.Replace(endpoint, "http://", "ws://", 1)
	endpoint = strings.Replace(endpoint, "https://", "wss://", 1)
	return &Feed{endpoint: strings.TrimRight(endpoint, "/")}
}

// feedFrame is one message on the feed socket.
type feedFrame struct {
	Type      string    `json:"type"` // "sample" or "error"
	ID        string    `json:"id,omitempty"`
	Value     float64   `json:"value,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Subscribe connects to the feed for a mill and invokes onSample for every
// sample until ctx is cancelled, the connection drops, or onSample returns
// an error. The cadence is owned by the feed; no client-side polling.
func (f *Feed) Subscribe(ctx context.Context, millID string, onSample func(Sample) error) error {
	u, err := url.Parse(fmt.Sprintf("%s/api/v1/feed?mill=%s&subscription=%s",
		f.endpoint, url.QueryEscape(millID), uuid.New().String()))
	if err != nil {
		return fmt.Errorf("parse feed endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}
	defer conn.Close()

	// Unblock ReadJSON when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var frame feedFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("feed read: %w", err)
		}

		switch frame.Type {
		case "sample":
			sample := Sample{ID: frame.ID, Value: frame.Value, Timestamp: frame.Timestamp}
			if err := onSample(sample); err != nil {
				return err
			}
		case "error":
			return errors.New("feed error: " + frame.Error)
		default:
			// Unknown frame types are skipped so the protocol can grow.
		}
	}
}
