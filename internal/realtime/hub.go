package realtime

import (
	"encoding/json"
	"sync"
	"time"
)

// Event 推送给客户端的消息
type Event struct {
	Type   string      `json:"type"`
	UserID uint        `json:"userId"`
	Data   interface{} `json:"data,omitempty"`
	SentAt time.Time   `json:"sentAt"`
}

// Hub 按用户分组的内存订阅表；订阅者缓冲区满时直接丢弃消息
type Hub struct {
	mu   sync.RWMutex
	subs map[uint]map[int]chan Event
	next int
}

// NewHub 构造空的 Hub
func NewHub() *Hub {
	return &Hub{subs: map[uint]map[int]chan Event{}}
}

// Subscribe 为用户注册一个订阅通道
func (h *Hub) Subscribe(userID uint, buffer int) (int, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	ch := make(chan Event, buffer)
	if h.subs[userID] == nil {
		h.subs[userID] = map[int]chan Event{}
	}
	h.subs[userID][id] = ch
	return id, ch
}

// Unsubscribe 注销订阅并关闭通道
func (h *Hub) Unsubscribe(userID uint, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	userSubs, ok := h.subs[userID]
	if !ok {
		return
	}
	if ch, ok := userSubs[id]; ok {
		delete(userSubs, id)
		close(ch)
	}
	if len(userSubs) == 0 {
		delete(h.subs, userID)
	}
}

// Publish 向某个用户的全部连接推送事件
func (h *Hub) Publish(userID uint, eventType string, data interface{}) {
	ev := Event{Type: eventType, UserID: userID, Data: data, SentAt: time.Now().UTC()}

	h.mu.RLock()
	receivers := make([]chan Event, 0, len(h.subs[userID]))
	for _, ch := range h.subs[userID] {
		receivers = append(receivers, ch)
	}
	// 持锁发送，避免与 Unsubscribe 的 close 竞争
	for _, ch := range receivers {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.RUnlock()
}

// SubscriberCount 返回用户当前连接数
func (h *Hub) SubscriberCount(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// MarshalJSON 把事件编码为 websocket 文本帧
func MarshalJSON(ev Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}
