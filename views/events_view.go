package views

import (
	"log"
	"time"

	"github.com/GrainArc/SouceGlobe/layer"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// EventMessage 推送给 WebSocket 客户端的事件
type EventMessage struct {
	Type string    `json:"type"`
	Name string    `json:"name"`
	Data any       `json:"data,omitempty"`
	Time time.Time `json:"time"`
}

func eventPayload(data any) any {
	switch d := data.(type) {
	case nil:
		return nil
	case layer.Layer:
		return gin.H{"id": d.ID(), "name": d.Name(), "type": d.Type()}
	case string, int, int64, float64, bool:
		return d
	}
	return nil
}

// EventsWS 订阅 Globe 事件流
func (gc *GlobeController) EventsWS(c *gin.Context) {
	// 先订阅再升级，握手完成后发布的事件不会丢失
	events, closeStream := gc.runner.Events().Stream(64)
	conn, err := gc.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		closeStream()
		log.Printf("websocket 升级失败: %v", err)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		closeStream()
		conn.Close()
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case ev, open := <-events:
			if !open {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			msg := EventMessage{Type: "event", Name: ev.Name, Data: eventPayload(ev.Data), Time: ev.Time}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
