package globe

import (
	"sync"
	"time"
)

const (
	EventLayerAdded   = "layerAdded"
	EventLayerRemoved = "layerRemoved"
)

// Event 发布的事件
type Event struct {
	Name string    `json:"name"`
	Data any       `json:"data,omitempty"`
	Time time.Time `json:"time"`
}

// Handler 事件回调
type Handler func(data any)

type subscription struct {
	id int
	fn Handler
}

// Events 事件中心，订阅回调在发布者的协程上同步执行
type Events struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string][]subscription
	streams  map[int]chan Event
}

// NewEvents 创建事件中心
func NewEvents() *Events {
	return &Events{
		handlers: make(map[string][]subscription),
		streams:  make(map[int]chan Event),
	}
}

// Subscribe 订阅事件，返回用于取消订阅的编号
func (e *Events) Subscribe(name string, fn Handler) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.handlers[name] = append(e.handlers[name], subscription{id: e.nextID, fn: fn})
	return e.nextID
}

// Unsubscribe 取消订阅
func (e *Events) Unsubscribe(name string, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.handlers[name]
	for i, s := range subs {
		if s.id == id {
			e.handlers[name] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Stream 接收全部事件的通道，消费跟不上时丢弃事件。返回的函数关闭通道。
func (e *Events) Stream(buffer int) (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	ch := make(chan Event, buffer)
	e.streams[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.streams, id)
			e.mu.Unlock()
			close(ch)
		})
	}
}

// Publish 发布事件
func (e *Events) Publish(name string, data any) {
	e.mu.RLock()
	subs := append([]subscription(nil), e.handlers[name]...)
	ev := Event{Name: name, Data: data, Time: time.Now()}
	for _, ch := range e.streams {
		select {
		case ch <- ev:
		default:
			logger.Debug("event dropped", "event", name)
		}
	}
	e.mu.RUnlock()

	for _, s := range subs {
		s.fn(data)
	}
}
