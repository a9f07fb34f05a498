package store

import (
	"context"
	"time"

	"github.com/tschew72/gameblitz-sub001/internal/engine"
)

// QuizStore hands the engine an immutable snapshot of a quiz at session
// creation. The engine makes no further quiz reads for the session lifetime.
type QuizStore interface {
	LoadQuizSnapshot(ctx context.Context, quizID uint) ([]engine.Question, error)
}

// ResultStore persists final per-player scores once a session finishes.
type ResultStore interface {
	SaveResults(ctx context.Context, sessionID string, results []GameResult) error
}

type GameResult struct {
	ID          uint   `gorm:"primaryKey"`
	SessionID   string `gorm:"index"`
	PlayerID    string
	Nickname    string
	Score       int
	Rank        int
	CompletedAt time.Time
}
