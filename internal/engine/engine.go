package engine

import (
	"errors"
	"strings"
)

var ErrEmptyQuiz = errors.New("quiz has no questions")
var ErrPhaseMismatch = errors.New("action not valid in current phase")
var ErrDuplicateAnswer = errors.New("answer already recorded for question")
var ErrNicknameTaken = errors.New("nickname already taken")
var ErrSessionNotJoinable = errors.New("session is not accepting players")
var ErrSessionFinished = errors.New("session already finished")
var ErrUnknownPlayer = errors.New("unknown player")
var ErrUnsupportedCommand = errors.New("unsupported command")

type CommandType string

const (
	CmdJoin            CommandType = "Join"
	CmdReconnect       CommandType = "Reconnect"
	CmdDisconnect      CommandType = "Disconnect"
	CmdStart           CommandType = "Start"
	CmdSubmitAnswer    CommandType = "SubmitAnswer"
	CmdDeadlineElapsed CommandType = "DeadlineElapsed"
	CmdContinue        CommandType = "Continue"
	CmdNext            CommandType = "Next"
	CmdPause           CommandType = "Pause"
	CmdResume          CommandType = "Resume"
	CmdEnd             CommandType = "End"
)

type Command struct {
	Type          CommandType
	PlayerID      string
	Nickname      string
	QuestionIndex int
	OptionIndex   int
	OffsetMs      int64
}

type EventType string

const (
	EvtPlayerJoined       EventType = "PlayerJoined"
	EvtPlayerLeft         EventType = "PlayerLeft"
	EvtPhaseChanged       EventType = "PhaseChanged"
	EvtAnswerRecorded     EventType = "AnswerRecorded"
	EvtLeaderboardUpdated EventType = "LeaderboardUpdated"
	EvtGameFinished       EventType = "GameFinished"
	EvtPaused             EventType = "Paused"
	EvtResumed            EventType = "Resumed"
)

type Event struct {
	Type          EventType
	PlayerID      string
	Nickname      string
	Phase         Phase
	QuestionIndex int
	Correct       bool
	Points        int
	BudgetMs      int64 // deadline budget carried by PhaseChanged, 0 = untimed phase
}

// Apply runs one command against the session state. The returned state shares
// maps with the input, but nothing is written until the command has been
// validated, so a rejected command leaves the session untouched. Serialization
// is the caller's job (one actor per session).
func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.Phase == PhaseFinished {
		return nil, s, ErrSessionFinished
	}

	newState := s

	switch cmd.Type {
	case CmdJoin:
		if s.Phase != PhaseLobby {
			return nil, s, ErrSessionNotJoinable
		}
		for _, p := range s.Players {
			if strings.EqualFold(p.Nickname, cmd.Nickname) {
				return nil, s, ErrNicknameTaken
			}
		}
		newState.Players[cmd.PlayerID] = &Player{
			ID:        cmd.PlayerID,
			Nickname:  cmd.Nickname,
			Connected: true,
			Answers:   map[int]AnswerRecord{},
		}
		newState.JoinOrder = append(newState.JoinOrder, cmd.PlayerID)
		return []Event{{Type: EvtPlayerJoined, PlayerID: cmd.PlayerID, Nickname: cmd.Nickname}}, newState, nil

	case CmdReconnect:
		p, ok := s.Players[cmd.PlayerID]
		if !ok {
			return nil, s, ErrUnknownPlayer
		}
		p.Connected = true
		return nil, newState, nil

	case CmdDisconnect:
		p, ok := s.Players[cmd.PlayerID]
		if !ok {
			return nil, s, ErrUnknownPlayer
		}
		p.Connected = false
		events := []Event{{Type: EvtPlayerLeft, PlayerID: cmd.PlayerID, Nickname: p.Nickname}}
		// Losing the last holdout can satisfy the all-answered condition.
		if s.Phase == PhaseQuestion && !s.Paused && allConnectedAnswered(newState) {
			events = append(events, enterReveal(&newState)...)
		}
		return events, newState, nil

	case CmdStart:
		if s.Phase != PhaseLobby {
			return nil, s, ErrPhaseMismatch
		}
		if len(s.Questions) == 0 {
			return nil, s, ErrEmptyQuiz
		}
		newState.Current = 0
		newState.Phase = PhaseQuestion
		return []Event{phaseChanged(newState)}, newState, nil

	case CmdSubmitAnswer:
		if s.Phase != PhaseQuestion || s.Paused {
			return nil, s, ErrPhaseMismatch
		}
		if cmd.QuestionIndex != s.Current {
			return nil, s, ErrPhaseMismatch
		}
		p, ok := s.Players[cmd.PlayerID]
		if !ok {
			return nil, s, ErrUnknownPlayer
		}
		if _, dup := p.Answers[s.Current]; dup {
			return nil, s, ErrDuplicateAnswer
		}
		q, _ := s.currentQuestion()
		correct := cmd.OptionIndex >= 0 && cmd.OptionIndex < len(q.Options) && q.Options[cmd.OptionIndex].Correct
		points := s.Scoring.Score(correct, cmd.OffsetMs, q.TimeLimitMs, q.Points)
		if cmd.OffsetMs > q.TimeLimitMs {
			// Past the budget counts the same as no answer.
			correct = false
		}
		p.Answers[s.Current] = AnswerRecord{Selected: cmd.OptionIndex, SubmittedAt: cmd.OffsetMs, Points: points}
		p.Score += points

		events := []Event{
			{Type: EvtAnswerRecorded, PlayerID: cmd.PlayerID, QuestionIndex: s.Current, Correct: correct, Points: points},
			{Type: EvtLeaderboardUpdated},
		}
		if allConnectedAnswered(newState) {
			events = append(events, enterReveal(&newState)...)
		}
		return events, newState, nil

	case CmdDeadlineElapsed:
		// Stale fires land here after the phase has already moved on; they
		// are no-ops rather than errors.
		if s.Paused {
			return nil, s, nil
		}
		switch s.Phase {
		case PhaseQuestion:
			q, _ := s.currentQuestion()
			events := []Event{}
			for _, id := range s.JoinOrder {
				p := s.Players[id]
				if _, ok := p.Answers[s.Current]; ok {
					continue
				}
				p.Answers[s.Current] = AnswerRecord{Selected: NoSelection, SubmittedAt: q.TimeLimitMs, Points: 0}
				events = append(events, Event{Type: EvtAnswerRecorded, PlayerID: id, QuestionIndex: s.Current, Correct: false, Points: 0})
			}
			events = append(events, enterReveal(&newState)...)
			return events, newState, nil
		case PhaseReveal:
			newState.Phase = PhaseLeaderboard
			return []Event{phaseChanged(newState), {Type: EvtLeaderboardUpdated}}, newState, nil
		default:
			return nil, s, nil
		}

	case CmdContinue:
		if s.Phase != PhaseReveal {
			return nil, s, ErrPhaseMismatch
		}
		newState.Phase = PhaseLeaderboard
		return []Event{phaseChanged(newState), {Type: EvtLeaderboardUpdated}}, newState, nil

	case CmdNext:
		if s.Phase != PhaseLeaderboard {
			return nil, s, ErrPhaseMismatch
		}
		if s.Current+1 >= len(s.Questions) {
			return finish(&newState), newState, nil
		}
		newState.Current = s.Current + 1
		newState.Phase = PhaseQuestion
		return []Event{phaseChanged(newState)}, newState, nil

	case CmdPause:
		if s.Paused {
			return nil, s, nil
		}
		newState.Paused = true
		return []Event{{Type: EvtPaused, Phase: s.Phase, QuestionIndex: s.Current}}, newState, nil

	case CmdResume:
		if !s.Paused {
			return nil, s, nil
		}
		newState.Paused = false
		return []Event{{Type: EvtResumed, Phase: s.Phase, QuestionIndex: s.Current}}, newState, nil

	case CmdEnd:
		return finish(&newState), newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func phaseChanged(s State) Event {
	return Event{Type: EvtPhaseChanged, Phase: s.Phase, QuestionIndex: s.Current, BudgetMs: phaseBudget(s)}
}

// phaseBudget is the deadline the scheduler should arm for the phase just
// entered. Zero means no deadline.
func phaseBudget(s State) int64 {
	switch s.Phase {
	case PhaseQuestion:
		if q, ok := s.currentQuestion(); ok {
			return q.TimeLimitMs
		}
	case PhaseReveal:
		return s.RevealMs
	}
	return 0
}

func enterReveal(s *State) []Event {
	s.Phase = PhaseReveal
	return []Event{phaseChanged(*s)}
}

func finish(s *State) []Event {
	s.Phase = PhaseFinished
	s.Paused = false
	return []Event{
		phaseChanged(*s),
		{Type: EvtLeaderboardUpdated},
		{Type: EvtGameFinished},
	}
}
