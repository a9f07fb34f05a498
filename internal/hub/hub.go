package hub

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tschew72/gameblitz-sub001/internal/engine"
	"github.com/tschew72/gameblitz-sub001/internal/pin"
	"github.com/tschew72/gameblitz-sub001/internal/session"
	"github.com/tschew72/gameblitz-sub001/internal/store"
)

type HubMsg interface{ isHubMsg() }

type CreateSession struct {
	ID    string
	State engine.State
	Reply chan *session.Session
}

type GetSession struct {
	Pin   string
	Reply chan *session.Session
}

type ListPublic struct {
	Reply chan []PublicSession
}

type RemoveSession struct {
	Pin string
}

type ShutdownHub struct{}

func (CreateSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (ListPublic) isHubMsg()    {}
func (RemoveSession) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

// PublicSession is a joinable public game, surfaced on the lobby listing.
type PublicSession struct {
	Pin   string `json:"pin"`
	Phase string `json:"phase"`
}

// Deps is everything the hub threads into the sessions it creates.
type Deps struct {
	Clock       clockwork.Clock
	Logger      *zap.Logger
	Results     store.ResultStore
	Pins        pin.Registry
	IdleTimeout time.Duration
}

// Hub owns the pin -> session registry. Like the sessions it manages, it is
// an actor: one goroutine, all access through the inbox.
type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*session.Session
	public   map[string]bool
	deps     Deps
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, deps Deps) *Hub {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*session.Session),
		public:   make(map[string]bool),
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateSession:
				code := msg.State.Pin
				if sess := h.sessions[code]; sess != nil {
					msg.Reply <- sess
					break
				}
				sess := session.New(h.ctx, msg.ID, msg.State, session.Config{
					Clock:       h.deps.Clock,
					Logger:      h.deps.Logger,
					Results:     h.deps.Results,
					Pins:        h.deps.Pins,
					IdleTimeout: h.deps.IdleTimeout,
					OnClose: func(pinCode string) {
						select {
						case h.inbox <- RemoveSession{Pin: pinCode}:
						case <-h.ctx.Done():
						}
					},
				})
				h.sessions[code] = sess
				h.public[code] = msg.State.Public
				h.deps.Logger.Info("session created", zap.String("pin", code), zap.String("session_id", msg.ID))
				msg.Reply <- sess

			case GetSession:
				msg.Reply <- h.sessions[msg.Pin] // may be nil

			case ListPublic:
				list := make([]PublicSession, 0)
				for code, sess := range h.sessions {
					if !h.public[code] {
						continue
					}
					if phase := sess.Phase(); phase == engine.PhaseLobby {
						list = append(list, PublicSession{Pin: code, Phase: string(phase)})
					}
				}
				msg.Reply <- list

			case RemoveSession:
				delete(h.sessions, msg.Pin)
				delete(h.public, msg.Pin)

			case ShutdownHub:
				for _, sess := range h.sessions {
					select {
					case sess.Inbox() <- session.Shutdown{}:
					default:
					}
				}
				clear(h.sessions)
				clear(h.public)
				h.cancel()
			}
		}
	}
}
