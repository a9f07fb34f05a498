package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tschew72/gameblitz-sub001/internal/engine"
	"github.com/tschew72/gameblitz-sub001/internal/pin"
	"github.com/tschew72/gameblitz-sub001/internal/store"
	itypes "github.com/tschew72/gameblitz-sub001/internal/types"
	ptypes "github.com/tschew72/gameblitz-sub001/pkg/types"
)

var ErrBadHostKey = errors.New("invalid host key")
var ErrHostOnly = errors.New("host-only action")
var ErrPlayersOnly = errors.New("players-only action")

type Msg interface{ isSessionMsg() }

type JoinPlayer struct {
	ConnID   string
	Nickname string
	Outbox   chan itypes.ServerMessage
	Reply    chan JoinReply
}

func (JoinPlayer) isSessionMsg() {}

type JoinReply struct {
	PlayerID string
	Err      error
}

type Reconnect struct {
	ConnID   string
	PlayerID string
	Outbox   chan itypes.ServerMessage
	Reply    chan error
}

func (Reconnect) isSessionMsg() {}

type AttachHost struct {
	ConnID  string
	HostKey string
	Outbox  chan itypes.ServerMessage
	Reply   chan error
}

func (AttachHost) isSessionMsg() {}

type Leave struct{ ConnID string }

func (Leave) isSessionMsg() {}

type FromClient struct {
	ConnID string
	Cmd    engine.Command
}

func (FromClient) isSessionMsg() {}

type GetState struct{ Reply chan View }

func (GetState) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

// Timer fires re-enter the loop as ordinary messages, so the all-answered and
// deadline-elapsed races collapse into one serialized decision point.
type deadlineFired struct{ gen uint64 }

func (deadlineFired) isSessionMsg() {}

type idleFired struct{ gen uint64 }

func (idleFired) isSessionMsg() {}

// View is a test-only reflection of internal state without data races.
type View struct {
	State          engine.State
	NumSubscribers int
	RemainingMs    int64
	HostAttached   bool
}

type subscriber struct {
	connID   string
	playerID string // empty for the host
	host     bool
	out      chan itypes.ServerMessage
}

type Config struct {
	Clock       clockwork.Clock
	Logger      *zap.Logger
	Results     store.ResultStore // optional
	Pins        pin.Registry      // optional, released when the session ends
	IdleTimeout time.Duration     // teardown budget while no host is attached
	OnClose     func(pinCode string)
}

// Session owns one live game. All mutation goes through the inbox and is
// applied by a single goroutine; the engine state is never touched from
// outside the loop.
type Session struct {
	id      string
	pinCode string
	hostKey string

	inbox    chan Msg
	state    engine.State
	subs     map[string]*subscriber
	hostConn string

	clock clockwork.Clock
	log   *zap.Logger
	cfg   Config

	timerGen uint64
	deadline time.Time
	armed    bool
	frozenMs int64 // remaining budget captured at pause

	idleGen     uint64
	pinReleased bool

	phase atomic.Value // engine.Phase

	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, id string, initial engine.State, cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)

	s := &Session{
		id:      id,
		pinCode: initial.Pin,
		hostKey: uuid.NewString(),
		inbox:   make(chan Msg, 64),
		state:   initial,
		subs:    make(map[string]*subscriber),
		clock:   cfg.Clock,
		log:     cfg.Logger.With(zap.String("pin", initial.Pin)),
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.phase.Store(initial.Phase)

	// No host attached yet; the idle clock starts immediately.
	s.armIdle()
	go s.loop()
	return s
}

func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) ID() string { return s.id }

func (s *Session) Pin() string { return s.pinCode }

func (s *Session) HostKey() string { return s.hostKey }

// Phase is safe to read outside the loop; the loop publishes it after every
// transition.
func (s *Session) Phase() engine.Phase { return s.phase.Load().(engine.Phase) }

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case JoinPlayer:
				s.handleJoin(msg)

			case Reconnect:
				s.handleReconnect(msg)

			case AttachHost:
				s.handleAttachHost(msg)

			case Leave:
				s.handleLeave(msg.ConnID)

			case FromClient:
				s.handleCommand(msg)

			case deadlineFired:
				if msg.gen != s.timerGen || s.state.Paused {
					break // stale generation, ignore
				}
				s.apply("", engine.Command{Type: engine.CmdDeadlineElapsed})

			case idleFired:
				if msg.gen != s.idleGen || s.hostConn != "" {
					break
				}
				s.log.Info("no host attached within idle budget, ending session")
				s.forceEnd()

			case GetState:
				msg.Reply <- View{
					State:          s.state,
					NumSubscribers: len(s.subs),
					RemainingMs:    s.remainingMs(),
					HostAttached:   s.hostConn != "",
				}

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) handleJoin(msg JoinPlayer) {
	playerID := uuid.NewString()
	events, newState, err := engine.Apply(s.state, engine.Command{
		Type:     engine.CmdJoin,
		PlayerID: playerID,
		Nickname: msg.Nickname,
	})
	if err != nil {
		msg.Reply <- JoinReply{Err: err}
		return
	}
	s.state = newState

	sub := &subscriber{connID: msg.ConnID, playerID: playerID, out: msg.Outbox}
	s.subs[msg.ConnID] = sub
	msg.Reply <- JoinReply{PlayerID: playerID}

	s.sendTo(sub, itypes.ServerMessage{Type: ptypes.EventConnected, Payload: s.connectedPayload(sub)})
	s.processEvents(events)
}

func (s *Session) handleReconnect(msg Reconnect) {
	if _, ok := s.state.Players[msg.PlayerID]; !ok {
		msg.Reply <- engine.ErrUnknownPlayer
		return
	}
	// A finished session still replays its final snapshot, but never mutates.
	if s.state.Phase != engine.PhaseFinished {
		_, newState, err := engine.Apply(s.state, engine.Command{Type: engine.CmdReconnect, PlayerID: msg.PlayerID})
		if err != nil {
			msg.Reply <- err
			return
		}
		s.state = newState
	}

	// Supersede any stale connection still bound to this player.
	for connID, sub := range s.subs {
		if sub.playerID == msg.PlayerID {
			delete(s.subs, connID)
			close(sub.out)
		}
	}

	sub := &subscriber{connID: msg.ConnID, playerID: msg.PlayerID, out: msg.Outbox}
	s.subs[msg.ConnID] = sub
	msg.Reply <- nil
	s.sendTo(sub, itypes.ServerMessage{Type: ptypes.EventConnected, Payload: s.connectedPayload(sub)})
}

func (s *Session) handleAttachHost(msg AttachHost) {
	if msg.HostKey != s.hostKey {
		msg.Reply <- ErrBadHostKey
		return
	}
	if s.hostConn != "" {
		if old, ok := s.subs[s.hostConn]; ok {
			delete(s.subs, s.hostConn)
			close(old.out)
		}
	}

	sub := &subscriber{connID: msg.ConnID, host: true, out: msg.Outbox}
	s.subs[msg.ConnID] = sub
	s.hostConn = msg.ConnID
	s.idleGen++ // host is back, stop the idle clock
	msg.Reply <- nil
	s.sendTo(sub, itypes.ServerMessage{Type: ptypes.EventConnected, Payload: s.connectedPayload(sub)})
}

func (s *Session) handleLeave(connID string) {
	sub, ok := s.subs[connID]
	if !ok {
		return
	}
	delete(s.subs, connID)
	close(sub.out)

	if sub.host && s.hostConn == connID {
		s.hostConn = ""
		// Host presence gates the game: freeze it and start the idle clock.
		if s.state.Phase != engine.PhaseFinished {
			s.apply("", engine.Command{Type: engine.CmdPause})
			s.armIdle()
		}
	} else if !sub.host {
		if s.state.Phase != engine.PhaseFinished {
			s.apply("", engine.Command{Type: engine.CmdDisconnect, PlayerID: sub.playerID})
		}
	}

	if s.state.Phase == engine.PhaseFinished && len(s.subs) == 0 {
		s.cancel()
	}
}

func (s *Session) handleCommand(msg FromClient) {
	sub, ok := s.subs[msg.ConnID]
	if !ok {
		return
	}
	cmd := msg.Cmd

	switch cmd.Type {
	case engine.CmdStart, engine.CmdContinue, engine.CmdNext, engine.CmdPause, engine.CmdResume, engine.CmdEnd:
		if !sub.host {
			s.sendError(sub, ErrHostOnly)
			return
		}
	case engine.CmdSubmitAnswer:
		if sub.playerID == "" {
			s.sendError(sub, ErrPlayersOnly)
			return
		}
		cmd.PlayerID = sub.playerID
		cmd.OffsetMs = s.answerOffsetMs()
	default:
		s.sendError(sub, engine.ErrUnsupportedCommand)
		return
	}

	s.apply(msg.ConnID, cmd)
}

// apply runs a command through the engine and fans out the resulting events.
// connID is empty for internally generated commands; an engine rejection of
// one of those means the session state is no longer trustworthy, so the
// session is force-finished instead of left undefined.
func (s *Session) apply(connID string, cmd engine.Command) {
	events, newState, err := engine.Apply(s.state, cmd)
	if err != nil {
		if connID != "" {
			if sub, ok := s.subs[connID]; ok {
				s.sendError(sub, err)
			}
			return
		}
		if !errors.Is(err, engine.ErrSessionFinished) {
			s.log.Error("internal command rejected, force-finishing session",
				zap.String("command", string(cmd.Type)), zap.Error(err))
			s.forceEnd()
		}
		return
	}
	s.state = newState
	s.phase.Store(newState.Phase)
	s.processEvents(events)
}

func (s *Session) processEvents(events []engine.Event) {
	for _, evt := range events {
		switch evt.Type {
		case engine.EvtPhaseChanged:
			if evt.BudgetMs > 0 {
				s.arm(time.Duration(evt.BudgetMs) * time.Millisecond)
			} else {
				s.disarm()
			}
			s.broadcastPhase(evt)

		case engine.EvtPlayerJoined:
			s.broadcast(itypes.ServerMessage{Type: ptypes.EventPlayerJoined, Payload: ptypes.PlayerJoinedPayload{
				PlayerID: evt.PlayerID,
				Nickname: evt.Nickname,
				Count:    len(s.state.Players),
			}}, everyone)

		case engine.EvtPlayerLeft:
			s.broadcast(itypes.ServerMessage{Type: ptypes.EventPlayerLeft, Payload: ptypes.PlayerLeftPayload{
				PlayerID: evt.PlayerID,
				Count:    len(s.state.Players),
			}}, everyone)

		case engine.EvtAnswerRecorded:
			total := 0
			if p, ok := s.state.Players[evt.PlayerID]; ok {
				total = p.Score
			}
			result := itypes.ServerMessage{Type: ptypes.EventAnswerResult, Payload: ptypes.AnswerResultPayload{
				PlayerID:      evt.PlayerID,
				Correct:       evt.Correct,
				PointsAwarded: evt.Points,
				TotalScore:    total,
			}}
			s.broadcast(result, playerAndHost(evt.PlayerID))
			s.broadcast(itypes.ServerMessage{Type: ptypes.EventAnswerCount, Payload: s.answerCountPayload()}, hostOnly)

		case engine.EvtLeaderboardUpdated:
			s.broadcast(itypes.ServerMessage{Type: ptypes.EventLeaderboardUpdated, Payload: ptypes.LeaderboardUpdatedPayload{
				Entries: leaderboardEntries(s.state),
			}}, everyone)

		case engine.EvtPaused:
			if s.armed {
				rem := s.deadline.Sub(s.clock.Now())
				if rem < 0 {
					rem = 0
				}
				s.frozenMs = rem.Milliseconds()
			} else {
				s.frozenMs = 0
			}
			s.disarm()
			s.broadcast(itypes.ServerMessage{Type: ptypes.EventSessionPaused, Payload: ptypes.SessionPausedPayload{
				RemainingMs: s.frozenMs,
			}}, everyone)

		case engine.EvtResumed:
			if s.frozenMs > 0 {
				s.arm(time.Duration(s.frozenMs) * time.Millisecond)
			}
			s.broadcast(itypes.ServerMessage{Type: ptypes.EventSessionResumed, Payload: ptypes.SessionPausedPayload{
				RemainingMs: s.frozenMs,
			}}, everyone)
			s.frozenMs = 0

		case engine.EvtGameFinished:
			s.disarm()
			s.persistResults()
			s.releasePin()
			if len(s.subs) == 0 {
				s.cancel()
			}
		}
	}
}

// broadcastPhase sends audience-specific variants of a phase change: players
// never see correct-answer flags during question_active, the host always
// does, and only the host gets the per-option answer distribution on reveal.
func (s *Session) broadcastPhase(evt engine.Event) {
	base := ptypes.PhaseChangedPayload{
		Phase:         string(evt.Phase),
		QuestionIndex: evt.QuestionIndex,
		RemainingMs:   evt.BudgetMs,
	}

	playerPayload := base
	hostPayload := base

	if q, ok := question(s.state, evt.QuestionIndex); ok {
		switch evt.Phase {
		case engine.PhaseQuestion:
			view := questionView(s.state, evt.QuestionIndex)
			playerPayload.Question = view
			hostPayload.Question = view
			hostPayload.CorrectOption = correctOption(q)
		case engine.PhaseReveal:
			view := questionView(s.state, evt.QuestionIndex)
			playerPayload.Question = view
			playerPayload.CorrectOption = correctOption(q)
			hostPayload.Question = view
			hostPayload.CorrectOption = correctOption(q)
			hostPayload.Distribution = s.answerDistribution(evt.QuestionIndex)
		}
	}

	s.broadcast(itypes.ServerMessage{Type: ptypes.EventPhaseChanged, Payload: playerPayload}, playersOnly)
	s.broadcast(itypes.ServerMessage{Type: ptypes.EventPhaseChanged, Payload: hostPayload}, hostOnly)
}

type audience func(*subscriber) bool

func everyone(*subscriber) bool { return true }

func hostOnly(sub *subscriber) bool { return sub.host }

func playersOnly(sub *subscriber) bool { return !sub.host }

func playerAndHost(playerID string) audience {
	return func(sub *subscriber) bool { return sub.host || sub.playerID == playerID }
}

// broadcast fans a frame out to matching subscribers. Delivery is best-effort
// per connection: a full outbox drops that subscriber rather than blocking
// delivery to the rest.
func (s *Session) broadcast(frame itypes.ServerMessage, include audience) {
	var dropped []string
	for connID, sub := range s.subs {
		if !include(sub) {
			continue
		}
		select {
		case sub.out <- frame:
		default:
			dropped = append(dropped, connID)
		}
	}
	for _, connID := range dropped {
		s.log.Warn("subscriber outbox full, dropping connection", zap.String("conn", connID))
		s.handleLeave(connID)
	}
}

func (s *Session) sendTo(sub *subscriber, frame itypes.ServerMessage) {
	select {
	case sub.out <- frame:
	default:
		s.handleLeave(sub.connID)
	}
}

func (s *Session) sendError(sub *subscriber, err error) {
	s.sendTo(sub, itypes.ServerMessage{Type: ptypes.EventError, Payload: ptypes.ErrorPayload{
		Code:    ErrorCode(err),
		Message: err.Error(),
	}})
}

// arm schedules the phase deadline. Every arm/disarm bumps the generation
// counter; a fire whose generation no longer matches is stale and ignored,
// which is the sole cancellation mechanism.
func (s *Session) arm(d time.Duration) {
	s.timerGen++
	gen := s.timerGen
	s.armed = true
	s.deadline = s.clock.Now().Add(d)

	timer := s.clock.NewTimer(d)
	go func() {
		select {
		case <-timer.Chan():
			select {
			case s.inbox <- deadlineFired{gen: gen}:
			case <-s.ctx.Done():
			}
		case <-s.ctx.Done():
			timer.Stop()
		}
	}()
}

func (s *Session) disarm() {
	s.timerGen++
	s.armed = false
}

func (s *Session) armIdle() {
	if s.cfg.IdleTimeout <= 0 {
		return
	}
	s.idleGen++
	gen := s.idleGen

	timer := s.clock.NewTimer(s.cfg.IdleTimeout)
	go func() {
		select {
		case <-timer.Chan():
			select {
			case s.inbox <- idleFired{gen: gen}:
			case <-s.ctx.Done():
			}
		case <-s.ctx.Done():
			timer.Stop()
		}
	}()
}

func (s *Session) remainingMs() int64 {
	if s.state.Paused {
		return s.frozenMs
	}
	if !s.armed {
		return 0
	}
	rem := s.deadline.Sub(s.clock.Now()).Milliseconds()
	if rem < 0 {
		return 0
	}
	return rem
}

// answerOffsetMs derives the submission offset from the live deadline, so
// paused time never counts against a player.
func (s *Session) answerOffsetMs() int64 {
	q, ok := question(s.state, s.state.Current)
	if !ok {
		return 0
	}
	off := q.TimeLimitMs - s.remainingMs()
	if off < 0 {
		return 0
	}
	return off
}

func (s *Session) answerCountPayload() ptypes.AnswerCountPayload {
	answered, connected := 0, 0
	for _, p := range s.state.Players {
		if p.Connected {
			connected++
		}
		if _, ok := p.Answers[s.state.Current]; ok {
			answered++
		}
	}
	return ptypes.AnswerCountPayload{Answered: answered, Connected: connected}
}

func (s *Session) answerDistribution(questionIndex int) []int {
	q, ok := question(s.state, questionIndex)
	if !ok {
		return nil
	}
	dist := make([]int, len(q.Options))
	for _, p := range s.state.Players {
		rec, ok := p.Answers[questionIndex]
		if !ok || rec.Selected < 0 || rec.Selected >= len(dist) {
			continue
		}
		dist[rec.Selected]++
	}
	return dist
}

func (s *Session) connectedPayload(sub *subscriber) ptypes.ConnectedPayload {
	payload := ptypes.ConnectedPayload{
		PlayerID:      sub.playerID,
		IsHost:        sub.host,
		Pin:           s.pinCode,
		Phase:         string(s.state.Phase),
		QuestionIndex: s.state.Current,
		RemainingMs:   s.remainingMs(),
		Paused:        s.state.Paused,
		Leaderboard:   leaderboardEntries(s.state),
	}
	if s.state.Phase == engine.PhaseQuestion || s.state.Phase == engine.PhaseReveal {
		payload.Question = questionView(s.state, s.state.Current)
	}
	if p, ok := s.state.Players[sub.playerID]; ok {
		payload.Score = p.Score
		_, payload.Answered = p.Answers[s.state.Current]
	}
	return payload
}

func (s *Session) persistResults() {
	if s.cfg.Results == nil {
		return
	}
	completed := s.clock.Now()
	results := make([]store.GameResult, 0, len(s.state.Players))
	for _, entry := range engine.Leaderboard(s.state) {
		results = append(results, store.GameResult{
			PlayerID:    entry.PlayerID,
			Nickname:    entry.Nickname,
			Score:       entry.Score,
			Rank:        entry.Rank,
			CompletedAt: completed,
		})
	}

	id, log, sink := s.id, s.log, s.cfg.Results
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sink.SaveResults(ctx, id, results); err != nil {
			log.Error("failed to persist final results", zap.Error(err))
		}
	}()
}

func (s *Session) releasePin() {
	if s.cfg.Pins == nil || s.pinReleased {
		return
	}
	s.pinReleased = true

	code, log, reg := s.pinCode, s.log, s.cfg.Pins
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := reg.Release(ctx, code); err != nil {
			log.Error("failed to release pin", zap.Error(err))
		}
	}()
}

// forceEnd drives the session to finished through the engine so everyone
// gets final standings, then tears it down.
func (s *Session) forceEnd() {
	if s.state.Phase != engine.PhaseFinished {
		events, newState, err := engine.Apply(s.state, engine.Command{Type: engine.CmdEnd})
		if err == nil {
			s.state = newState
			s.phase.Store(newState.Phase)
			s.processEvents(events)
		}
	}
	s.cancel()
}

func (s *Session) shutdown() {
	for connID, sub := range s.subs {
		close(sub.out)
		delete(s.subs, connID)
	}
	s.releasePin()
	s.cancel()
	if s.cfg.OnClose != nil {
		go s.cfg.OnClose(s.pinCode)
	}
}

func question(s engine.State, i int) (engine.Question, bool) {
	if i < 0 || i >= len(s.Questions) {
		return engine.Question{}, false
	}
	return s.Questions[i], true
}

func questionView(s engine.State, i int) *ptypes.QuestionView {
	q, ok := question(s, i)
	if !ok {
		return nil
	}
	options := make([]string, len(q.Options))
	for j, o := range q.Options {
		options[j] = o.Text
	}
	return &ptypes.QuestionView{
		Text:        q.Text,
		Type:        q.Type,
		Options:     options,
		TimeLimitMs: q.TimeLimitMs,
		Points:      q.Points,
		Index:       i,
		Total:       len(s.Questions),
	}
}

func correctOption(q engine.Question) *int {
	for i, o := range q.Options {
		if o.Correct {
			idx := i
			return &idx
		}
	}
	return nil
}

func leaderboardEntries(s engine.State) []ptypes.LeaderboardEntry {
	entries := engine.Leaderboard(s)
	out := make([]ptypes.LeaderboardEntry, len(entries))
	for i, e := range entries {
		out[i] = ptypes.LeaderboardEntry{PlayerID: e.PlayerID, Nickname: e.Nickname, Score: e.Score, Rank: e.Rank}
	}
	return out
}

// ErrorCode maps the error taxonomy onto stable wire codes.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrPhaseMismatch):
		return "phase_mismatch"
	case errors.Is(err, engine.ErrDuplicateAnswer):
		return "duplicate_answer"
	case errors.Is(err, engine.ErrNicknameTaken):
		return "nickname_taken"
	case errors.Is(err, engine.ErrSessionNotJoinable):
		return "session_not_joinable"
	case errors.Is(err, engine.ErrSessionFinished):
		return "session_finished"
	case errors.Is(err, engine.ErrEmptyQuiz):
		return "empty_quiz"
	case errors.Is(err, engine.ErrUnknownPlayer):
		return "unknown_player"
	case errors.Is(err, pin.ErrInvalidFormat):
		return "invalid_format"
	case errors.Is(err, pin.ErrSpaceExhausted):
		return "pin_space_exhausted"
	case errors.Is(err, ErrBadHostKey):
		return "invalid_host_key"
	case errors.Is(err, ErrHostOnly):
		return "host_only"
	case errors.Is(err, ErrPlayersOnly):
		return "players_only"
	default:
		return "internal"
	}
}
