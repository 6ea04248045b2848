// internal/websocket/client.go
package websocket

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrClientBufferFull 发送缓冲区已满
var ErrClientBufferFull = errors.New("client send buffer full")

// ErrClientClosed 客户端已关闭
var ErrClientClosed = errors.New("client closed")

// Client 表示一个 WebSocket 客户端连接
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient 创建新的客户端
func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		ID:   id,
		Conn: conn,
		Send: make(chan []byte, 256),
	}
}

// SendMessage 向客户端发送消息，缓冲区满时丢弃
func (c *Client) SendMessage(msg *WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.Send <- data:
		return nil
	default:
		return ErrClientBufferFull
	}
}

// SendEvent 向客户端发送事件
func (c *Client) SendEvent(eventType string, payload interface{}) error {
	return c.SendMessage(&WSMessage{
		Kind: KindEvent,
		Event: &WSEvent{
			Type:    eventType,
			Payload: payload,
		},
	})
}

// SendResponse 向客户端发送 RPC 响应
func (c *Client) SendResponse(id string, result interface{}, errMsg, code string) error {
	resp := &RPCResponse{ID: id}
	if errMsg != "" {
		resp.Error = errMsg
		resp.Code = code
	} else {
		resp.Result = result
	}
	return c.SendMessage(&WSMessage{
		Kind:     KindResponse,
		Response: resp,
	})
}

// WritePump 将 Send 通道中的消息写入 WebSocket
func (c *Client) WritePump() {
	defer c.Conn.Close()

	for message := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Close 关闭发送通道，可重复调用
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}
