package server

import (
	"encoding/json"

	"github.com/gofiber/contrib/websocket"
	"github.com/sirupsen/logrus"
)

// clientMessage is the subscription protocol frame. A reconnecting client
// starts with an empty interest set and must resubscribe.
type clientMessage struct {
	Event   string `json:"event"`
	TableID string `json:"tableId"`
}

type serverAck struct {
	Event   string `json:"event"`
	TableID string `json:"tableId,omitempty"`
	Message string `json:"message,omitempty"`
}

// subscriptionHandler owns one connection's lifetime: register with the
// hub, serve subscribe/unsubscribe requests, tear the interest set down on
// disconnect. Malformed frames get an error reply and the connection
// stays open.
func (s *FiberServer) subscriptionHandler(conn *websocket.Conn) {
	wallet := conn.Query("wallet", "anonymous")

	client := s.hub.RegisterConn(conn, wallet)
	defer s.hub.UnregisterClient(client)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			logrus.Infof("[WS] Read loop ended for %s: %v", wallet, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.hub.SendTo(client, serverAck{Event: "error", Message: "Invalid message format"})
			continue
		}

		switch msg.Event {
		case "subscribe":
			if msg.TableID == "" {
				s.hub.SendTo(client, serverAck{Event: "error", Message: "tableId is required"})
				continue
			}
			s.hub.Subscribe(client, msg.TableID)
			s.hub.SendTo(client, serverAck{Event: "subscribed", TableID: msg.TableID})

		case "unsubscribe":
			if msg.TableID == "" {
				s.hub.SendTo(client, serverAck{Event: "error", Message: "tableId is required"})
				continue
			}
			s.hub.Unsubscribe(client, msg.TableID)
			s.hub.SendTo(client, serverAck{Event: "unsubscribed", TableID: msg.TableID})

		case "ping":
			s.hub.SendTo(client, serverAck{Event: "pong"})

		default:
			s.hub.SendTo(client, serverAck{Event: "error", Message: "Unknown event type"})
		}
	}
}
