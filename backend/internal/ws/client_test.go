package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

type nopHandler struct{}

func (nopHandler) HandleMessage(WebSocketMessage) {}

func TestRunOnce_SignalsConnectedBeforeReadLoop(t *testing.T) {
	// 连接建立成功必须触发 connected 回调（Run 靠它把退避归零），
	// 拨号失败则不能触发
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")

	c := NewClient(endpoint, "tok", nopHandler{})
	connected := 0
	if err := c.runOnce(context.Background(), func() { connected++ }); err == nil {
		t.Fatalf("runOnce() error = nil, want read error after server close")
	}
	if connected != 1 {
		t.Fatalf("connected callback fired %d times, want 1", connected)
	}

	// 拨号失败：回调不触发
	failing := NewClient("ws://127.0.0.1:1/board/ws", "tok", nopHandler{})
	fired := 0
	if err := failing.runOnce(context.Background(), func() { fired++ }); err == nil {
		t.Fatalf("runOnce() error = nil, want dial failure")
	}
	if fired != 0 {
		t.Fatalf("connected callback fired %d times on dial failure, want 0", fired)
	}
}
