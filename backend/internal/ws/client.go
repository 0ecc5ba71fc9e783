package ws

import (
	"context"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Handler 消费入站外框消息（collab.Syncer 实现了它）。
type Handler interface {
	HandleMessage(msg WebSocketMessage)
}

// Client 维护到中继服务的长连接：读循环投递给 Handler，
// 出站走带缓冲的 send 通道（满了丢弃，presence 信号丢得起），
// 断线按指数退避重连，重连成功后回调 OnReconnect 做补拉。
type Client struct {
	endpoint string // 例如 ws://localhost:8082/board/ws
	token    string

	mu   sync.Mutex
	conn *websocket.Conn
	send chan WebSocketMessage

	handler Handler

	// OnReconnect 在（重）连成功后回调：重新 join、Backfill 追平。
	OnReconnect func()
}

func NewClient(endpoint, token string, handler Handler) *Client {
	return &Client{
		endpoint: endpoint,
		token:    token,
		handler:  handler,
		send:     make(chan WebSocketMessage, 64),
	}
}

// Send 把出站消息入队；队列满时丢弃（不阻塞调用方）。
func (c *Client) Send(msg WebSocketMessage) error {
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Run 阻塞运行连接循环直到 ctx 取消。
// 每次断开后用 backoff 库做带上限的指数退避再重连。
func (c *Client) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = 0 // 不放弃，一直重连

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		// 连上过就把退避归零：长连接跑了几小时后断开，
		// 重连还得从 250ms 起步，不能顶着 10s 上限等
		err := c.runOnce(ctx, policy.Reset)
		if err != nil {
			log.Printf("ws: connection lost: %v", err)
		}
		wait := policy.NextBackOff()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) runOnce(ctx context.Context, connected func()) error {
	// 浏览器同款做法：token 放 query 参数，服务端中间件两处都认
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.Close()

	if connected != nil {
		connected()
	}
	if c.OnReconnect != nil {
		go c.OnReconnect()
	}

	done := make(chan struct{})
	go c.writeLoop(ctx, conn, done)
	defer close(done)

	// 读循环：阻塞到连接断开
	for {
		var msg WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		c.handler.HandleMessage(msg)
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	for {
		select {
		case msg := <-c.send:
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws: write failed: %v", err)
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}
