package signalclient

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/video-relay/config"
	"github.com/mossy-p/video-relay/internal/handlers"
	"github.com/mossy-p/video-relay/internal/hub"
	"github.com/mossy-p/video-relay/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T) (*hub.Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Hub: config.HubConfig{EnforceRoomScope: true, SendBuffer: 16}}
	h := hub.New(cfg.Hub, nil)
	srv := httptest.NewServer(handlers.NewRouter(cfg, h))
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signal"
}

// listen runs Listen in the background and exposes received messages.
func listen(t *testing.T, c *Client) (<-chan models.SignalMessage, <-chan error) {
	t.Helper()
	msgs := make(chan models.SignalMessage, 16)
	errc := make(chan error, 1)
	go func() {
		errc <- c.Listen(context.Background(), func(m models.SignalMessage) { msgs <- m })
	}()
	return msgs, errc
}

func next(t *testing.T, msgs <-chan models.SignalMessage) models.SignalMessage {
	t.Helper()
	select {
	case m := <-msgs:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
		return models.SignalMessage{}
	}
}

func TestJoinAndRelay(t *testing.T) {
	h, url := startRelay(t)
	ctx := context.Background()

	alice, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	defer alice.Close()
	aliceMsgs, _ := listen(t, alice)

	require.NoError(t, alice.Send(models.SignalMessage{Type: models.SignalTypeJoinRoom, RoomID: "r1"}))
	require.Eventually(t, func() bool { return len(h.Members("r1")) == 1 }, 5*time.Second, 10*time.Millisecond)
	aliceID := h.Members("r1")[0]

	bob, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	defer bob.Close()
	bobMsgs, _ := listen(t, bob)
	require.NoError(t, bob.Send(models.SignalMessage{Type: models.SignalTypeJoinRoom, RoomID: "r1"}))

	joined := next(t, aliceMsgs)
	assert.Equal(t, models.SignalTypeUserJoined, joined.Type)
	bobID := joined.PeerID
	assert.Equal(t, "r1", h.RoomOf(bobID))

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	require.NoError(t, alice.Send(models.SignalMessage{Type: models.SignalTypeOffer, To: bobID, Offer: offer}))

	got := next(t, bobMsgs)
	assert.Equal(t, models.SignalTypeOffer, got.Type)
	assert.Equal(t, aliceID, got.From)
	assert.Empty(t, got.To)
	assert.JSONEq(t, string(offer), string(got.Offer))
}

func TestListenEndsOnClose(t *testing.T) {
	h, url := startRelay(t)

	c, err := Dial(context.Background(), url, nil)
	require.NoError(t, err)
	_, errc := listen(t, c)
	require.NoError(t, c.Send(models.SignalMessage{Type: models.SignalTypeJoinRoom, RoomID: "r1"}))
	require.Eventually(t, func() bool { return len(h.Members("r1")) == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	select {
	case <-c.Done():
	default:
		t.Fatal("done not closed")
	}
	assert.ErrorIs(t, c.Send(models.SignalMessage{Type: models.SignalTypeChat, Text: "late"}), ErrClosed)

	select {
	case <-errc:
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not return")
	}
	// The relay treats the closed socket as a leave.
	require.Eventually(t, func() bool { return len(h.Members("r1")) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestListenStopsOnCancel(t *testing.T) {
	_, url := startRelay(t)

	c, err := Dial(context.Background(), url, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Listen(ctx, func(models.SignalMessage) {}) }()
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not return")
	}
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/ws/signal", nil)
	assert.Error(t, err)
}
