package types

// Client -> Server message types
const (
	MsgSubmitAnswer = "submit_answer"
	MsgStart        = "start"
	MsgContinue     = "continue"
	MsgNext         = "next"
	MsgPause        = "pause"
	MsgResume       = "resume"
	MsgEnd          = "end"
	MsgPing         = "ping"
)

// Server -> Client event types
const (
	EventConnected          = "connected"
	EventPhaseChanged       = "phase_changed"
	EventPlayerJoined       = "player_joined"
	EventPlayerLeft         = "player_left"
	EventLeaderboardUpdated = "leaderboard_updated"
	EventAnswerResult       = "answer_result"
	EventAnswerCount        = "answer_count"
	EventSessionPaused      = "session_paused"
	EventSessionResumed     = "session_resumed"
	EventError              = "error"
	EventPong               = "pong"
)

type SubmitAnswerPayload struct {
	QuestionIndex int `json:"question_index"`
	OptionIndex   int `json:"option_index"`
}

// QuestionView is what players see during question_active: option text only,
// never the correct flags.
type QuestionView struct {
	Text        string   `json:"text"`
	Type        string   `json:"type"`
	Options     []string `json:"options"`
	TimeLimitMs int64    `json:"time_limit_ms"`
	Points      int      `json:"points"`
	Index       int      `json:"index"`
	Total       int      `json:"total"`
}

type PhaseChangedPayload struct {
	Phase         string        `json:"phase"`
	QuestionIndex int           `json:"question_index"`
	Question      *QuestionView `json:"question,omitempty"`
	CorrectOption *int          `json:"correct_option,omitempty"`
	Distribution  []int         `json:"distribution,omitempty"` // host only: answers per option
	RemainingMs   int64         `json:"remaining_ms,omitempty"`
}

type PlayerJoinedPayload struct {
	PlayerID string `json:"player_id"`
	Nickname string `json:"nickname"`
	Count    int    `json:"count"`
}

type PlayerLeftPayload struct {
	PlayerID string `json:"player_id"`
	Count    int    `json:"count"`
}

type LeaderboardEntry struct {
	PlayerID string `json:"player_id"`
	Nickname string `json:"nickname"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

type LeaderboardUpdatedPayload struct {
	Entries []LeaderboardEntry `json:"entries"`
}

type AnswerResultPayload struct {
	PlayerID      string `json:"player_id"`
	Correct       bool   `json:"correct"`
	PointsAwarded int    `json:"points_awarded"`
	TotalScore    int    `json:"total_score"`
}

type AnswerCountPayload struct {
	Answered  int `json:"answered"`
	Connected int `json:"connected"`
}

type SessionPausedPayload struct {
	RemainingMs int64 `json:"remaining_ms"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectedPayload replays the current session view so a (re)connecting
// client resumes in sync without any event history.
type ConnectedPayload struct {
	PlayerID      string             `json:"player_id,omitempty"`
	IsHost        bool               `json:"is_host"`
	Pin           string             `json:"pin"`
	Phase         string             `json:"phase"`
	QuestionIndex int                `json:"question_index"`
	Question      *QuestionView      `json:"question,omitempty"`
	RemainingMs   int64              `json:"remaining_ms,omitempty"`
	Paused        bool               `json:"paused"`
	Score         int                `json:"score,omitempty"`
	Answered      bool               `json:"answered,omitempty"`
	Leaderboard   []LeaderboardEntry `json:"leaderboard"`
}
