package engine

type Phase string

const (
	PhaseLobby       Phase = "lobby"
	PhaseQuestion    Phase = "question_active"
	PhaseReveal      Phase = "reveal"
	PhaseLeaderboard Phase = "leaderboard"
	PhaseFinished    Phase = "finished"
)

type Option struct {
	Text    string
	Correct bool
}

type Question struct {
	Text        string
	Type        string
	Options     []Option
	TimeLimitMs int64
	Points      int
}

// NoSelection marks an AnswerRecord written by the deadline instead of the player.
const NoSelection = -1

type AnswerRecord struct {
	Selected    int   // option index, NoSelection if the deadline passed unanswered
	SubmittedAt int64 // ms offset from the start of the question phase
	Points      int
}

type Player struct {
	ID        string
	Nickname  string
	Connected bool
	Score     int
	Answers   map[int]AnswerRecord
}

type State struct {
	Pin       string
	Public    bool
	Questions []Question
	Current   int // -1 until the first question starts
	Phase     Phase
	Paused    bool
	Players   map[string]*Player
	JoinOrder []string // insertion order, the leaderboard tie-break
	Scoring   ScoringConfig
	RevealMs  int64 // display budget for the reveal phase
}

// NewState copies the quiz snapshot into a fresh lobby-phase session. Later
// edits to the source quiz never reach a running session.
func NewState(pin string, public bool, questions []Question, scoring ScoringConfig, revealMs int64) State {
	qs := make([]Question, len(questions))
	for i, q := range questions {
		qs[i] = q
		qs[i].Options = append([]Option(nil), q.Options...)
	}
	return State{
		Pin:       pin,
		Public:    public,
		Questions: qs,
		Current:   -1,
		Phase:     PhaseLobby,
		Players:   make(map[string]*Player),
		JoinOrder: []string{},
		Scoring:   scoring,
		RevealMs:  revealMs,
	}
}

func (s State) currentQuestion() (Question, bool) {
	if s.Current < 0 || s.Current >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[s.Current], true
}

// allConnectedAnswered reports whether every connected player holds an answer
// for the current question. False when nobody is connected, so the deadline
// still drives an empty room forward.
func allConnectedAnswered(s State) bool {
	connected := 0
	for _, p := range s.Players {
		if !p.Connected {
			continue
		}
		connected++
		if _, ok := p.Answers[s.Current]; !ok {
			return false
		}
	}
	return connected > 0
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
