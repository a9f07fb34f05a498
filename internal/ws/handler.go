package ws

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/tschew72/gameblitz-sub001/internal/engine"
	"github.com/tschew72/gameblitz-sub001/internal/hub"
	"github.com/tschew72/gameblitz-sub001/internal/pin"
	"github.com/tschew72/gameblitz-sub001/internal/session"
	"github.com/tschew72/gameblitz-sub001/internal/types"
	ptypes "github.com/tschew72/gameblitz-sub001/pkg/types"
)

const (
	writeTimeout = 3 * time.Second
	readTimeout  = 60 * time.Second // clients keep the socket warm with pings
	outboxSize   = 32
)

// Handler upgrades a connection and binds it to a session. The role comes
// from the query string: host_key attaches the host, player_id reconnects an
// existing player, nickname joins a new one.
func Handler(h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("pin")
		if err := pin.ValidateFormat(code); err != nil {
			http.Error(w, "invalid pin", http.StatusBadRequest)
			return
		}

		reply := make(chan *session.Session, 1)
		h.Inbox() <- hub.GetSession{Pin: code, Reply: reply}
		sess := <-reply
		if sess == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan types.ServerMessage, outboxSize)
		connID := randID(8)

		if err := attach(r, sess, connID, out); err != nil {
			logger.Debug("ws attach rejected", zap.String("pin", code), zap.Error(err))
			writeFrame(r.Context(), conn, types.ServerMessage{
				Type:    ptypes.EventError,
				Payload: ptypes.ErrorPayload{Code: session.ErrorCode(err), Message: err.Error()},
			})
			return
		}
		defer func() { sess.Inbox() <- session.Leave{ConnID: connID} }()

		// Writer goroutine: drains the session outbox until the session
		// closes it or the request ends.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for frame := range out {
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				writeFrame(ctx, conn, frame)
				cancel()
			}
			conn.Close(websocket.StatusNormalClosure, "session closed")
		}()

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeFrame(r.Context(), conn, errorFrame("bad_json", "malformed message"))
				continue
			}

			if cm.Type == ptypes.MsgPing {
				writeFrame(r.Context(), conn, types.ServerMessage{Type: ptypes.EventPong})
				continue
			}

			cmd, ok := toCommand(cm)
			if !ok {
				writeFrame(r.Context(), conn, errorFrame("unknown_type", "unknown message type"))
				continue
			}

			sess.Inbox() <- session.FromClient{ConnID: connID, Cmd: cmd}
		}
	}
}

func attach(r *http.Request, sess *session.Session, connID string, out chan types.ServerMessage) error {
	q := r.URL.Query()

	if hostKey := q.Get("host_key"); hostKey != "" {
		reply := make(chan error, 1)
		sess.Inbox() <- session.AttachHost{ConnID: connID, HostKey: hostKey, Outbox: out, Reply: reply}
		return <-reply
	}

	if playerID := q.Get("player_id"); playerID != "" {
		reply := make(chan error, 1)
		sess.Inbox() <- session.Reconnect{ConnID: connID, PlayerID: playerID, Outbox: out, Reply: reply}
		return <-reply
	}

	nickname := q.Get("nickname")
	if nickname == "" {
		return engine.ErrUnknownPlayer
	}
	reply := make(chan session.JoinReply, 1)
	sess.Inbox() <- session.JoinPlayer{ConnID: connID, Nickname: nickname, Outbox: out, Reply: reply}
	return (<-reply).Err
}

func toCommand(cm types.ClientMessage) (engine.Command, bool) {
	switch cm.Type {
	case ptypes.MsgSubmitAnswer:
		var p ptypes.SubmitAnswerPayload
		if err := json.Unmarshal(cm.Payload, &p); err != nil {
			return engine.Command{}, false
		}
		return engine.Command{Type: engine.CmdSubmitAnswer, QuestionIndex: p.QuestionIndex, OptionIndex: p.OptionIndex}, true
	case ptypes.MsgStart:
		return engine.Command{Type: engine.CmdStart}, true
	case ptypes.MsgContinue:
		return engine.Command{Type: engine.CmdContinue}, true
	case ptypes.MsgNext:
		return engine.Command{Type: engine.CmdNext}, true
	case ptypes.MsgPause:
		return engine.Command{Type: engine.CmdPause}, true
	case ptypes.MsgResume:
		return engine.Command{Type: engine.CmdResume}, true
	case ptypes.MsgEnd:
		return engine.Command{Type: engine.CmdEnd}, true
	default:
		return engine.Command{}, false
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame types.ServerMessage) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = conn.Write(ctx, websocket.MessageText, payload)
}

func errorFrame(code, message string) types.ServerMessage {
	return types.ServerMessage{Type: ptypes.EventError, Payload: ptypes.ErrorPayload{Code: code, Message: message}}
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
