package session

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tschew72/gameblitz-sub001/internal/engine"
	itypes "github.com/tschew72/gameblitz-sub001/internal/types"
	ptypes "github.com/tschew72/gameblitz-sub001/pkg/types"
)

func oneQuestion() []engine.Question {
	return []engine.Question{{
		Text:        "q0",
		Options:     []engine.Option{{Text: "right", Correct: true}, {Text: "wrong"}},
		TimeLimitMs: 20000,
		Points:      1000,
	}}
}

func newTestSession(t *testing.T, clock clockwork.Clock, revealMs int64, questions []engine.Question) *Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	state := engine.NewState("111111", false, questions, engine.DefaultScoring(), revealMs)
	return New(ctx, "game-1", state, Config{Clock: clock})
}

// receive one frame with a timeout so tests never hang
func recvFrame(t *testing.T, ch <-chan itypes.ServerMessage, within time.Duration) itypes.ServerMessage {
	t.Helper()
	select {
	case frame, ok := <-ch:
		if !ok {
			t.Fatalf("outbox closed unexpectedly")
		}
		return frame
	case <-time.After(within):
		t.Fatalf("timed out waiting for frame")
		return itypes.ServerMessage{} // unreachable
	}
}

// skim frames until one of the wanted type arrives
func recvFrameOfType(t *testing.T, ch <-chan itypes.ServerMessage, msgType string, within time.Duration) itypes.ServerMessage {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				t.Fatalf("outbox closed while waiting for %q", msgType)
			}
			if frame.Type == msgType {
				return frame
			}
		case <-deadline:
			t.Fatalf("timed out waiting for frame of type %q", msgType)
			return itypes.ServerMessage{} // unreachable
		}
	}
}

func recvNoFrame(t *testing.T, ch <-chan itypes.ServerMessage, within time.Duration) {
	t.Helper()
	select {
	case frame, ok := <-ch:
		if !ok {
			return // closed is fine, nothing more can arrive
		}
		t.Fatalf("expected no frame within %v, got %q: %+v", within, frame.Type, frame.Payload)
	case <-time.After(within):
	}
}

func recvView(t *testing.T, s *Session, within time.Duration) View {
	t.Helper()
	reply := make(chan View, 1)
	s.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func attachHost(t *testing.T, s *Session) chan itypes.ServerMessage {
	t.Helper()
	out := make(chan itypes.ServerMessage, 16)
	reply := make(chan error, 1)
	s.Inbox() <- AttachHost{ConnID: "host", HostKey: s.HostKey(), Outbox: out, Reply: reply}
	if err := <-reply; err != nil {
		t.Fatalf("host attach: %v", err)
	}
	return out
}

func joinPlayer(t *testing.T, s *Session, connID, nickname string) (chan itypes.ServerMessage, string) {
	t.Helper()
	out := make(chan itypes.ServerMessage, 16)
	reply := make(chan JoinReply, 1)
	s.Inbox() <- JoinPlayer{ConnID: connID, Nickname: nickname, Outbox: out, Reply: reply}
	res := <-reply
	if res.Err != nil {
		t.Fatalf("join %q: %v", nickname, res.Err)
	}
	return out, res.PlayerID
}

func TestSession_JoinSendsSnapshotFirst(t *testing.T) {
	s := newTestSession(t, clockwork.NewFakeClock(), 5000, oneQuestion())

	out, playerID := joinPlayer(t, s, "c1", "alice")

	first := recvFrame(t, out, 100*time.Millisecond)
	if first.Type != ptypes.EventConnected {
		t.Fatalf("want connected first, got %q", first.Type)
	}
	snap := first.Payload.(ptypes.ConnectedPayload)
	if snap.PlayerID != playerID || snap.Phase != string(engine.PhaseLobby) {
		t.Fatalf("bad snapshot: %+v", snap)
	}

	joined := recvFrameOfType(t, out, ptypes.EventPlayerJoined, 100*time.Millisecond)
	if joined.Payload.(ptypes.PlayerJoinedPayload).Nickname != "alice" {
		t.Fatalf("bad player_joined payload: %+v", joined.Payload)
	}
}

func TestSession_HostKeyRejected(t *testing.T) {
	s := newTestSession(t, clockwork.NewFakeClock(), 5000, oneQuestion())

	out := make(chan itypes.ServerMessage, 16)
	reply := make(chan error, 1)
	s.Inbox() <- AttachHost{ConnID: "h1", HostKey: "wrong", Outbox: out, Reply: reply}
	if err := <-reply; err != ErrBadHostKey {
		t.Fatalf("want ErrBadHostKey, got %v", err)
	}
}

func TestSession_HostOnlyActionsRejectedForPlayers(t *testing.T) {
	s := newTestSession(t, clockwork.NewFakeClock(), 5000, oneQuestion())
	out, _ := joinPlayer(t, s, "c1", "alice")

	s.Inbox() <- FromClient{ConnID: "c1", Cmd: engine.Command{Type: engine.CmdStart}}

	frame := recvFrameOfType(t, out, ptypes.EventError, 200*time.Millisecond)
	if frame.Payload.(ptypes.ErrorPayload).Code != "host_only" {
		t.Fatalf("want host_only rejection, got %+v", frame.Payload)
	}
}

func TestSession_FullRoundWithSpeedScoring(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock, 5000, oneQuestion())

	hostOut := attachHost(t, s)
	aOut, _ := joinPlayer(t, s, "a", "alice")
	bOut, _ := joinPlayer(t, s, "b", "bob")

	s.Inbox() <- FromClient{ConnID: "host", Cmd: engine.Command{Type: engine.CmdStart}}

	aPhase := recvFrameOfType(t, aOut, ptypes.EventPhaseChanged, 200*time.Millisecond)
	playerView := aPhase.Payload.(ptypes.PhaseChangedPayload)
	if playerView.Phase != string(engine.PhaseQuestion) || playerView.Question == nil {
		t.Fatalf("bad player phase payload: %+v", playerView)
	}
	if playerView.CorrectOption != nil {
		t.Fatalf("players must not see the correct option during the question")
	}
	hPhase := recvFrameOfType(t, hostOut, ptypes.EventPhaseChanged, 200*time.Millisecond)
	if hPhase.Payload.(ptypes.PhaseChangedPayload).CorrectOption == nil {
		t.Fatalf("host should see the correct option")
	}

	// alice answers correctly 2s in, bob wrong at 18s
	clock.Advance(2 * time.Second)
	s.Inbox() <- FromClient{ConnID: "a", Cmd: engine.Command{Type: engine.CmdSubmitAnswer, QuestionIndex: 0, OptionIndex: 0}}
	aResult := recvFrameOfType(t, aOut, ptypes.EventAnswerResult, 200*time.Millisecond)
	if got := aResult.Payload.(ptypes.AnswerResultPayload); !got.Correct || got.PointsAwarded != 950 {
		t.Fatalf("want correct 950, got %+v", got)
	}

	clock.Advance(16 * time.Second)
	s.Inbox() <- FromClient{ConnID: "b", Cmd: engine.Command{Type: engine.CmdSubmitAnswer, QuestionIndex: 0, OptionIndex: 1}}
	bResult := recvFrameOfType(t, bOut, ptypes.EventAnswerResult, 200*time.Millisecond)
	if got := bResult.Payload.(ptypes.AnswerResultPayload); got.Correct || got.PointsAwarded != 0 {
		t.Fatalf("want incorrect 0, got %+v", got)
	}

	// everyone answered: reveal, with the correct option for players too
	reveal := recvFrameOfType(t, aOut, ptypes.EventPhaseChanged, 200*time.Millisecond)
	rp := reveal.Payload.(ptypes.PhaseChangedPayload)
	if rp.Phase != string(engine.PhaseReveal) || rp.CorrectOption == nil || *rp.CorrectOption != 0 {
		t.Fatalf("bad reveal payload: %+v", rp)
	}
	hostReveal := recvFrameOfType(t, hostOut, ptypes.EventPhaseChanged, 200*time.Millisecond)
	if dist := hostReveal.Payload.(ptypes.PhaseChangedPayload).Distribution; len(dist) != 2 || dist[0] != 1 || dist[1] != 1 {
		t.Fatalf("bad host distribution: %v", dist)
	}

	s.Inbox() <- FromClient{ConnID: "host", Cmd: engine.Command{Type: engine.CmdContinue}}
	board := recvFrameOfType(t, aOut, ptypes.EventLeaderboardUpdated, 200*time.Millisecond)
	entries := board.Payload.(ptypes.LeaderboardUpdatedPayload).Entries
	if len(entries) != 2 || entries[0].Nickname != "alice" || entries[0].Rank != 1 || entries[0].Score != 950 {
		t.Fatalf("bad standings: %+v", entries)
	}
	if entries[1].Nickname != "bob" || entries[1].Rank != 2 {
		t.Fatalf("bad standings tail: %+v", entries)
	}

	// last question: next finishes the game
	s.Inbox() <- FromClient{ConnID: "host", Cmd: engine.Command{Type: engine.CmdNext}}
	final := recvFrameOfType(t, aOut, ptypes.EventPhaseChanged, 200*time.Millisecond)
	if final.Payload.(ptypes.PhaseChangedPayload).Phase != string(engine.PhaseFinished) {
		t.Fatalf("want finished, got %+v", final.Payload)
	}
}

func TestSession_DeadlineForcesAdvance(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock, 5000, oneQuestion())

	attachHost(t, s)
	aOut, _ := joinPlayer(t, s, "a", "alice")
	bOut, bID := joinPlayer(t, s, "b", "bob")

	s.Inbox() <- FromClient{ConnID: "host", Cmd: engine.Command{Type: engine.CmdStart}}
	_ = recvFrameOfType(t, aOut, ptypes.EventPhaseChanged, 200*time.Millisecond)

	s.Inbox() <- FromClient{ConnID: "a", Cmd: engine.Command{Type: engine.CmdSubmitAnswer, QuestionIndex: 0, OptionIndex: 0}}
	_ = recvFrameOfType(t, aOut, ptypes.EventAnswerResult, 200*time.Millisecond)

	// bob never answers; the deadline advances the phase anyway
	clock.Advance(20 * time.Second)

	fill := recvFrameOfType(t, bOut, ptypes.EventAnswerResult, time.Second)
	if got := fill.Payload.(ptypes.AnswerResultPayload); got.Correct || got.PointsAwarded != 0 {
		t.Fatalf("want zero-point fill-in for bob, got %+v", got)
	}
	reveal := recvFrameOfType(t, bOut, ptypes.EventPhaseChanged, time.Second)
	if reveal.Payload.(ptypes.PhaseChangedPayload).Phase != string(engine.PhaseReveal) {
		t.Fatalf("want reveal after deadline, got %+v", reveal.Payload)
	}

	view := recvView(t, s, time.Second)
	rec, ok := view.State.Players[bID].Answers[0]
	if !ok || rec.Selected != engine.NoSelection || rec.Points != 0 {
		t.Fatalf("want null answer record for bob, got %+v (present=%v)", rec, ok)
	}
}

func TestSession_StaleTimerFireIgnored(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock, 0, oneQuestion()) // no reveal timer

	attachHost(t, s)
	aOut, _ := joinPlayer(t, s, "a", "alice")

	s.Inbox() <- FromClient{ConnID: "host", Cmd: engine.Command{Type: engine.CmdStart}}
	_ = recvFrameOfType(t, aOut, ptypes.EventPhaseChanged, 200*time.Millisecond)

	// all answered: reveal happens before the question deadline
	s.Inbox() <- FromClient{ConnID: "a", Cmd: engine.Command{Type: engine.CmdSubmitAnswer, QuestionIndex: 0, OptionIndex: 0}}
	_ = recvFrameOfType(t, aOut, ptypes.EventPhaseChanged, 200*time.Millisecond)

	// the original question timer fires late with a stale generation
	clock.Advance(20 * time.Second)
	recvNoFrame(t, aOut, 300*time.Millisecond)

	view := recvView(t, s, time.Second)
	if view.State.Phase != engine.PhaseReveal {
		t.Fatalf("stale fire moved the phase: %v", view.State.Phase)
	}
}

func TestSession_PauseFreezesRemainingBudget(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock, 5000, oneQuestion())

	attachHost(t, s)
	aOut, _ := joinPlayer(t, s, "a", "alice")

	s.Inbox() <- FromClient{ConnID: "host", Cmd: engine.Command{Type: engine.CmdStart}}
	_ = recvFrameOfType(t, aOut, ptypes.EventPhaseChanged, 200*time.Millisecond)

	clock.Advance(5 * time.Second)
	s.Inbox() <- FromClient{ConnID: "host", Cmd: engine.Command{Type: engine.CmdPause}}

	paused := recvFrameOfType(t, aOut, ptypes.EventSessionPaused, 200*time.Millisecond)
	if got := paused.Payload.(ptypes.SessionPausedPayload).RemainingMs; got != 15000 {
		t.Fatalf("want 15000ms frozen, got %d", got)
	}

	// submissions are rejected while paused
	s.Inbox() <- FromClient{ConnID: "a", Cmd: engine.Command{Type: engine.CmdSubmitAnswer, QuestionIndex: 0, OptionIndex: 0}}
	rejected := recvFrameOfType(t, aOut, ptypes.EventError, 200*time.Millisecond)
	if rejected.Payload.(ptypes.ErrorPayload).Code != "phase_mismatch" {
		t.Fatalf("want phase_mismatch during pause, got %+v", rejected.Payload)
	}

	// paused time does not burn budget
	clock.Advance(time.Minute)
	s.Inbox() <- FromClient{ConnID: "host", Cmd: engine.Command{Type: engine.CmdResume}}
	_ = recvFrameOfType(t, aOut, ptypes.EventSessionResumed, 200*time.Millisecond)

	view := recvView(t, s, time.Second)
	if view.RemainingMs != 15000 {
		t.Fatalf("want 15000ms after resume, got %d", view.RemainingMs)
	}

	clock.Advance(15 * time.Second)
	reveal := recvFrameOfType(t, aOut, ptypes.EventPhaseChanged, time.Second)
	if reveal.Payload.(ptypes.PhaseChangedPayload).Phase != string(engine.PhaseReveal) {
		t.Fatalf("want reveal after the re-armed deadline, got %+v", reveal.Payload)
	}
}

func TestSession_HostDisconnectAutoPauses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock, 5000, oneQuestion())

	attachHost(t, s)
	aOut, _ := joinPlayer(t, s, "a", "alice")

	s.Inbox() <- FromClient{ConnID: "host", Cmd: engine.Command{Type: engine.CmdStart}}
	_ = recvFrameOfType(t, aOut, ptypes.EventPhaseChanged, 200*time.Millisecond)

	s.Inbox() <- Leave{ConnID: "host"}
	_ = recvFrameOfType(t, aOut, ptypes.EventSessionPaused, 200*time.Millisecond)

	s.Inbox() <- FromClient{ConnID: "a", Cmd: engine.Command{Type: engine.CmdSubmitAnswer, QuestionIndex: 0, OptionIndex: 0}}
	rejected := recvFrameOfType(t, aOut, ptypes.EventError, 200*time.Millisecond)
	if rejected.Payload.(ptypes.ErrorPayload).Code != "phase_mismatch" {
		t.Fatalf("want phase_mismatch after host drop, got %+v", rejected.Payload)
	}
}

func TestSession_DuplicateAnswerRejected(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock, 5000, oneQuestion())

	attachHost(t, s)
	aOut, _ := joinPlayer(t, s, "a", "alice")
	_, _ = joinPlayer(t, s, "b", "bob") // keeps the phase from advancing

	s.Inbox() <- FromClient{ConnID: "host", Cmd: engine.Command{Type: engine.CmdStart}}
	_ = recvFrameOfType(t, aOut, ptypes.EventPhaseChanged, 200*time.Millisecond)

	s.Inbox() <- FromClient{ConnID: "a", Cmd: engine.Command{Type: engine.CmdSubmitAnswer, QuestionIndex: 0, OptionIndex: 0}}
	_ = recvFrameOfType(t, aOut, ptypes.EventAnswerResult, 200*time.Millisecond)

	s.Inbox() <- FromClient{ConnID: "a", Cmd: engine.Command{Type: engine.CmdSubmitAnswer, QuestionIndex: 0, OptionIndex: 1}}
	rejected := recvFrameOfType(t, aOut, ptypes.EventError, 200*time.Millisecond)
	if rejected.Payload.(ptypes.ErrorPayload).Code != "duplicate_answer" {
		t.Fatalf("want duplicate_answer, got %+v", rejected.Payload)
	}
}

func TestSession_ReconnectReplaysScore(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSession(t, clock, 5000, oneQuestion())

	attachHost(t, s)
	aOut, aID := joinPlayer(t, s, "a", "alice")
	_, _ = joinPlayer(t, s, "b", "bob") // phase stays question_active after alice leaves

	s.Inbox() <- FromClient{ConnID: "host", Cmd: engine.Command{Type: engine.CmdStart}}
	_ = recvFrameOfType(t, aOut, ptypes.EventPhaseChanged, 200*time.Millisecond)

	clock.Advance(2 * time.Second)
	s.Inbox() <- FromClient{ConnID: "a", Cmd: engine.Command{Type: engine.CmdSubmitAnswer, QuestionIndex: 0, OptionIndex: 0}}
	_ = recvFrameOfType(t, aOut, ptypes.EventAnswerResult, 200*time.Millisecond)

	s.Inbox() <- Leave{ConnID: "a"}

	out := make(chan itypes.ServerMessage, 16)
	reply := make(chan error, 1)
	s.Inbox() <- Reconnect{ConnID: "a2", PlayerID: aID, Outbox: out, Reply: reply}
	if err := <-reply; err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	snap := recvFrameOfType(t, out, ptypes.EventConnected, 200*time.Millisecond).Payload.(ptypes.ConnectedPayload)
	if snap.Score != 950 || !snap.Answered || snap.Phase != string(engine.PhaseQuestion) {
		t.Fatalf("bad reconnect snapshot: %+v", snap)
	}
}

func TestSession_SlowSubscriberDropped(t *testing.T) {
	s := newTestSession(t, clockwork.NewFakeClock(), 5000, oneQuestion())

	out := make(chan itypes.ServerMessage, 1) // fills on the connected snapshot
	reply := make(chan JoinReply, 1)
	s.Inbox() <- JoinPlayer{ConnID: "slow", Nickname: "snail", Outbox: out, Reply: reply}
	if res := <-reply; res.Err != nil {
		t.Fatalf("join: %v", res.Err)
	}

	view := recvView(t, s, time.Second)
	if view.NumSubscribers != 0 {
		t.Fatalf("expected slow subscriber to be dropped, have %d", view.NumSubscribers)
	}
}

func TestSession_FinishedTearsDownAfterLastLeave(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	closed := make(chan string, 1)
	state := engine.NewState("222222", false, oneQuestion(), engine.DefaultScoring(), 5000)
	s := New(ctx, "game-2", state, Config{
		Clock:   clock,
		OnClose: func(pinCode string) { closed <- pinCode },
	})

	hostOut := attachHost(t, s)
	aOut, _ := joinPlayer(t, s, "a", "alice")

	s.Inbox() <- FromClient{ConnID: "host", Cmd: engine.Command{Type: engine.CmdEnd}}
	_ = recvFrameOfType(t, aOut, ptypes.EventPhaseChanged, 200*time.Millisecond)
	_ = recvFrameOfType(t, hostOut, ptypes.EventPhaseChanged, 200*time.Millisecond)

	s.Inbox() <- Leave{ConnID: "a"}
	s.Inbox() <- Leave{ConnID: "host"}

	select {
	case pinCode := <-closed:
		if pinCode != "222222" {
			t.Fatalf("wrong pin on close: %s", pinCode)
		}
	case <-time.After(time.Second):
		t.Fatalf("session never closed after last subscriber left")
	}
}

func TestSession_IdleWithoutHostEndsGame(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	closed := make(chan string, 1)
	state := engine.NewState("333333", false, oneQuestion(), engine.DefaultScoring(), 5000)
	s := New(ctx, "game-3", state, Config{
		Clock:       clock,
		IdleTimeout: 5 * time.Minute,
		OnClose:     func(pinCode string) { closed <- pinCode },
	})

	_, _ = joinPlayer(t, s, "a", "alice")

	// no host ever attaches
	clock.Advance(5 * time.Minute)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("idle session with no host was never torn down")
	}
}
