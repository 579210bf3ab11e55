package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/sirupsen/logrus"
)

const (
	sourceBuffer     = 256
	reconnectBackoff = 5 * time.Second
)

// RPCSource subscribes to program account changes over the ledger's
// websocket RPC and turns them into Notifications. It reconnects with a
// flat backoff; missed updates during an outage are reconciled by readers
// polling authoritative state, so no replay is attempted.
type RPCSource struct {
	endpoint   string
	programID  string
	commitment string
	out        chan Notification
}

func NewRPCSource(endpoint, programID, commitment string) *RPCSource {
	if commitment == "" {
		commitment = "confirmed"
	}
	return &RPCSource{
		endpoint:   endpoint,
		programID:  programID,
		commitment: commitment,
		out:        make(chan Notification, sourceBuffer),
	}
}

// Notifications is the stream consumed by the Watcher.
func (s *RPCSource) Notifications() <-chan Notification {
	return s.out
}

// Run dials, subscribes and pumps notifications until the context ends.
func (s *RPCSource) Run(ctx context.Context) {
	defer close(s.out)
	for {
		if err := s.connectAndPump(ctx); err != nil {
			logrus.Warnf("[LEDGER] RPC stream error: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Pubkey  string `json:"pubkey"`
				Account struct {
					Data []string `json:"data"`
				} `json:"account"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

func (s *RPCSource) connectAndPump(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "programSubscribe",
		Params: []any{
			s.programID,
			map[string]any{"encoding": "base64", "commitment": s.commitment},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	logrus.Infof("[LEDGER] Subscribed to program %s (%s)", s.programID, s.commitment)

	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var msg rpcNotification
		if err := json.Unmarshal(raw, &msg); err != nil {
			logrus.Warnf("[LEDGER] Dropping malformed RPC message: %v", err)
			continue
		}
		if msg.Method != "programNotification" {
			continue
		}
		if len(msg.Params.Result.Value.Account.Data) == 0 {
			continue
		}

		data, err := base64.StdEncoding.DecodeString(msg.Params.Result.Value.Account.Data[0])
		if err != nil {
			logrus.Warnf("[LEDGER] Dropping account update with bad base64: %v", err)
			continue
		}

		n := Notification{
			Account:    msg.Params.Result.Value.Pubkey,
			Data:       data,
			Slot:       msg.Params.Result.Context.Slot,
			Confidence: s.commitment,
		}
		select {
		case s.out <- n:
		default:
			logrus.Warn("[LEDGER] Notification buffer full, dropping update")
		}
	}
}
