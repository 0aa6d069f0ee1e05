package broadcast

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fleet/internal/logger"
)

const (
	clientBuffer = 32
	writeTimeout = 10 * time.Second
)

type client struct {
	conn  *websocket.Conn
	owner string // 为空表示订阅全部
	send  chan Event
}

// Hub 维护 WebSocket 客户端集合。发布端非阻塞：慢客户端丢消息而不是拖住回合。
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients:  make(map[*client]struct{}),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

var _ Broadcaster = (*Hub)(nil)

// Publish 按 owner 过滤后扇出。
func (h *Hub) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.owner != "" && event.OwnerID != "" && c.owner != event.OwnerID {
			continue
		}
		select {
		case c.send <- event:
		default:
			// 慢客户端：丢弃而非阻塞
		}
	}
}

// ServeWS 升级连接并接管读写。owner 查询参数可选，用于只订阅自己的机器人。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("broadcast: websocket 升级失败: %v", err)
		return
	}
	c := &client{
		conn:  conn,
		owner: r.URL.Query().Get("owner"),
		send:  make(chan Event, clientBuffer),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logger.Infof("broadcast: 客户端接入 owner=%q", c.owner)

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	for event := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(event); err != nil {
			logger.Debugf("broadcast: 写入失败，断开客户端: %v", err)
			c.conn.Close()
			return
		}
	}
	c.conn.Close()
}

// readLoop 只消费控制帧与客户端关闭；任何读错误都视为断开。
func (h *Hub) readLoop(c *client) {
	defer h.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Shutdown 关闭所有客户端连接。
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
