package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Change actions.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
	ActionCleared = "cleared"
)

// Change entities.
const (
	EntityFeature    = "feature"
	EntityGleba      = "gleba"
	EntityLayer      = "layer"
	EntityLayerGroup = "layer_group"
)

// Change is a notification pushed by the backend after a write.
type Change struct {
	At     time.Time `json:"at"`
	Action string    `json:"action"`
	Entity string    `json:"entity"`
	ID     string    `json:"id,omitempty"`
	User   string    `json:"user,omitempty"`
}

// Watch streams change notifications for the session user until ctx is done
// or the connection drops.
func (c *Client) Watch(ctx context.Context, fn func(Change)) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/ws"

	dialer := websocket.Dialer{
		Jar:              c.jar,
		HandshakeTimeout: c.timeout,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusSwitchingProtocols {
				return &Error{Status: resp.StatusCode}
			}
		}
		return err
	}
	defer func() { _ = conn.Close() }()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		var ch Change
		if err := conn.ReadJSON(&ch); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return nil
			}
			return err
		}
		fn(ch)
	}
}
