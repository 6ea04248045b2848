// internal/eventhub/hub.go
package eventhub

import (
	"sync"
	"time"
)

// Broadcaster 事件广播接口
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// 事件名称
const (
	CheckpointCreated   = "checkpoint:created"
	CheckpointRestored  = "checkpoint:restored"
	CheckpointForked    = "checkpoint:forked"
	CheckpointRefreshed = "checkpoint:refreshed"
	SessionInitialized  = "session:initialized"
)

// EventHub 统一事件分发中心
type EventHub struct {
	mu          sync.RWMutex
	broadcaster Broadcaster
	now         func() time.Time
}

// New 创建新的 EventHub
func New() *EventHub {
	return &EventHub{now: time.Now}
}

// SetBroadcaster 设置 WebSocket 广播器
func (h *EventHub) SetBroadcaster(b Broadcaster) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcaster = b
}

// emit 统一的事件发送方法，没有广播器时丢弃
func (h *EventHub) emit(eventName string, payload interface{}) {
	h.mu.RLock()
	b := h.broadcaster
	h.mu.RUnlock()
	if b != nil {
		b.BroadcastEvent(eventName, payload)
	}
}

// Emit 通用事件发送方法
func (h *EventHub) Emit(eventName string, payload interface{}) {
	h.emit(eventName, payload)
}

// 会话初始化事件
type SessionInitializedEvent struct {
	SessionID   string    `json:"sessionId"`
	ProjectPath string    `json:"projectPath"`
	Checkpoints int       `json:"checkpoints"`
	At          time.Time `json:"at"`
}

func (h *EventHub) EmitSessionInitialized(sessionID, projectPath string, checkpoints int) {
	h.emit(SessionInitialized, SessionInitializedEvent{
		SessionID:   sessionID,
		ProjectPath: projectPath,
		Checkpoints: checkpoints,
		At:          h.now(),
	})
}

// 检查点创建事件
type CheckpointCreatedEvent struct {
	SessionID    string    `json:"sessionId"`
	CheckpointID string    `json:"checkpointId"`
	MessageIndex int       `json:"messageIndex"`
	At           time.Time `json:"at"`
}

func (h *EventHub) EmitCheckpointCreated(sessionID, checkpointID string, messageIndex int) {
	h.emit(CheckpointCreated, CheckpointCreatedEvent{
		SessionID:    sessionID,
		CheckpointID: checkpointID,
		MessageIndex: messageIndex,
		At:           h.now(),
	})
}

// 检查点恢复事件
type CheckpointRestoredEvent struct {
	SessionID     string    `json:"sessionId"`
	CheckpointID  string    `json:"checkpointId"`
	MessageIndex  int       `json:"messageIndex"`
	FilesRestored int       `json:"filesRestored"`
	FilesDeleted  int       `json:"filesDeleted"`
	Warnings      int       `json:"warnings"`
	At            time.Time `json:"at"`
}

func (h *EventHub) EmitCheckpointRestored(event CheckpointRestoredEvent) {
	if event.At.IsZero() {
		event.At = h.now()
	}
	h.emit(CheckpointRestored, event)
}

// 分支事件
type CheckpointForkedEvent struct {
	SessionID    string    `json:"sessionId"`
	FromID       string    `json:"fromId"`
	CheckpointID string    `json:"checkpointId"`
	At           time.Time `json:"at"`
}

func (h *EventHub) EmitCheckpointForked(sessionID, fromID, checkpointID string) {
	h.emit(CheckpointForked, CheckpointForkedEvent{
		SessionID:    sessionID,
		FromID:       fromID,
		CheckpointID: checkpointID,
		At:           h.now(),
	})
}

// 缓存刷新事件（trigger: construction, read, watch, explicit）
type CheckpointRefreshedEvent struct {
	SessionID string    `json:"sessionId"`
	Trigger   string    `json:"trigger"`
	Records   int       `json:"records"`
	At        time.Time `json:"at"`
}

func (h *EventHub) EmitCheckpointRefreshed(sessionID, trigger string, records int) {
	h.emit(CheckpointRefreshed, CheckpointRefreshedEvent{
		SessionID: sessionID,
		Trigger:   trigger,
		Records:   records,
		At:        h.now(),
	})
}
