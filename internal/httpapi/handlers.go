package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tschew72/gameblitz-sub001/internal/config"
	"github.com/tschew72/gameblitz-sub001/internal/engine"
	"github.com/tschew72/gameblitz-sub001/internal/hub"
	"github.com/tschew72/gameblitz-sub001/internal/pin"
	"github.com/tschew72/gameblitz-sub001/internal/session"
	"github.com/tschew72/gameblitz-sub001/internal/store"
)

type Deps struct {
	Hub     *hub.Hub
	Quizzes store.QuizStore // optional; inline questions work without it
	Pins    pin.Registry
	Cfg     *config.Config
	Logger  *zap.Logger
}

type createGameRequest struct {
	QuizID    uint            `json:"quiz_id,omitempty"`
	IsPublic  bool            `json:"is_public"`
	Questions []questionInput `json:"questions,omitempty"`
}

type questionInput struct {
	Text        string        `json:"text"`
	Type        string        `json:"type"`
	Options     []optionInput `json:"options"`
	TimeLimitMs int64         `json:"time_limit_ms"`
	Points      int           `json:"points"`
}

type optionInput struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

type createGameResponse struct {
	GameID  string `json:"game_id"`
	Pin     string `json:"pin"`
	HostKey string `json:"host_key"`
}

// CreateGame snapshots a quiz, allocates a pin against the registry with a
// bounded retry budget, and spins up the session actor. The host key in the
// response is the host's credential for the ws attach.
func CreateGame(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createGameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}

		questions, err := resolveQuestions(deps, r, req)
		if err != nil {
			if errors.Is(err, store.ErrQuizNotFound) {
				http.Error(w, "quiz not found", http.StatusNotFound)
				return
			}
			deps.Logger.Error("failed to load quiz snapshot", zap.Uint("quiz_id", req.QuizID), zap.Error(err))
			http.Error(w, "failed to load quiz", http.StatusInternalServerError)
			return
		}

		code, err := pin.Allocate(r.Context(), deps.Pins, deps.Cfg.PinAttempts)
		if err != nil {
			if errors.Is(err, pin.ErrSpaceExhausted) {
				http.Error(w, "no pin available, try again", http.StatusServiceUnavailable)
				return
			}
			deps.Logger.Error("pin allocation failed", zap.Error(err))
			http.Error(w, "failed to allocate pin", http.StatusInternalServerError)
			return
		}

		scoring := engine.ScoringConfig{
			SpeedWeight: deps.Cfg.ScoringSpeedWeight,
			MinFactor:   deps.Cfg.ScoringMinFactor,
		}
		state := engine.NewState(code, req.IsPublic, questions, scoring, deps.Cfg.RevealMs)

		gameID := uuid.NewString()
		reply := make(chan *session.Session, 1)
		deps.Hub.Inbox() <- hub.CreateSession{ID: gameID, State: state, Reply: reply}
		sess := <-reply
		if sess == nil {
			http.Error(w, "failed to create session", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(createGameResponse{
			GameID:  sess.ID(),
			Pin:     sess.Pin(),
			HostKey: sess.HostKey(),
		})
	}
}

func resolveQuestions(deps Deps, r *http.Request, req createGameRequest) ([]engine.Question, error) {
	if len(req.Questions) > 0 {
		questions := make([]engine.Question, len(req.Questions))
		for i, q := range req.Questions {
			options := make([]engine.Option, len(q.Options))
			for j, o := range q.Options {
				options[j] = engine.Option{Text: o.Text, Correct: o.IsCorrect}
			}
			questions[i] = engine.Question{
				Text:        q.Text,
				Type:        q.Type,
				Options:     options,
				TimeLimitMs: q.TimeLimitMs,
				Points:      q.Points,
			}
		}
		return questions, nil
	}
	if deps.Quizzes == nil {
		return nil, errors.New("quiz store not configured")
	}
	return deps.Quizzes.LoadQuizSnapshot(r.Context(), req.QuizID)
}

// ListGames lists public sessions still in the lobby.
func ListGames(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []hub.PublicSession, 1)
		deps.Hub.Inbox() <- hub.ListPublic{Reply: reply}
		games := <-reply

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Games []hub.PublicSession `json:"games"`
		}{Games: games})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
