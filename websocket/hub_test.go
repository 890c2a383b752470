package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HSouheill/barrim_network/models"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, serveHub(t, hub)
}

func serveHub(t *testing.T, hub *Hub) string {
	t.Helper()
	e := echo.New()
	e.GET("/ws/:memberId", func(c echo.Context) error {
		id, err := primitive.ObjectIDFromHex(c.Param("memberId"))
		if err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		return HandleWebSocket(c, hub, id, false)
	})
	e.GET("/ws/operator", func(c echo.Context) error {
		return HandleWebSocket(c, hub, primitive.NilObjectID, true)
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var welcome Notification
	require.NoError(t, conn.ReadJSON(&welcome))
	require.Equal(t, NotificationTypeConnected, welcome.Type)
	return conn
}

func readNotification(t *testing.T, conn *websocket.Conn) Notification {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var n Notification
	require.NoError(t, conn.ReadJSON(&n))
	return n
}

func TestHub_IntentUpdatedReachesMemberAndOperators(t *testing.T) {
	hub, base := startHub(t)
	memberID := primitive.NewObjectID()

	member := dial(t, base+"/ws/"+memberID.Hex())
	operator := dial(t, base+"/ws/operator")

	intent := &models.PaymentIntent{ID: primitive.NewObjectID(), MemberID: memberID, Status: models.IntentStatusCompleted}
	hub.IntentUpdated(context.Background(), intent, models.IntentStatusPending)

	got := readNotification(t, member)
	assert.Equal(t, NotificationTypeIntentUpdated, got.Type)
	assert.Equal(t, memberID.Hex(), got.MemberID)
	assert.Contains(t, got.Message, string(models.IntentStatusCompleted))

	assert.Equal(t, NotificationTypeIntentUpdated, readNotification(t, operator).Type)
}

func TestHub_PayoutEvents(t *testing.T) {
	hub, base := startHub(t)
	referrer := primitive.NewObjectID()

	member := dial(t, base+"/ws/"+referrer.Hex())
	operator := dial(t, base+"/ws/operator")

	hub.PayoutPaid(context.Background(), &models.CommissionRecord{ID: primitive.NewObjectID(), ReferrerID: referrer})
	assert.Equal(t, NotificationTypePayoutPaid, readNotification(t, member).Type)

	report := &models.PayoutBatchReport{Period: "2026-09"}
	report.Summary.Succeeded = 3
	report.Summary.Failed = 1
	hub.PayoutBatchFinished(context.Background(), report)

	got := readNotification(t, operator)
	assert.Equal(t, NotificationTypePayoutBatch, got.Type)
	assert.Equal(t, "Payout batch 2026-09 finished: 3 paid, 1 failed", got.Message)
}

func TestHub_SendToDisconnectedMember(t *testing.T) {
	hub, base := startHub(t)
	memberID := primitive.NewObjectID()

	assert.Error(t, hub.SendToMember(memberID, Notification{Type: "ping"}))

	conn := dial(t, base+"/ws/"+memberID.Hex())
	require.NoError(t, hub.SendToMember(memberID, Notification{Type: "ping"}))
	assert.Equal(t, "ping", readNotification(t, conn).Type)

	conn.Close()
	assert.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_StopReleasesConnections(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	base := serveHub(t, hub)
	memberID := primitive.NewObjectID()
	conn := dial(t, base+"/ws/"+memberID.Hex())

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "open connections are closed on shutdown")

	released := make(chan struct{})
	go func() {
		hub.Unregister(&Client{MemberID: memberID})
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("unregister blocked after shutdown")
	}
	assert.False(t, hub.Register(&Client{MemberID: memberID}))

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/"+memberID.Hex(), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
