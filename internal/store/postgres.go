package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tschew72/gameblitz-sub001/internal/engine"
)

var ErrQuizNotFound = errors.New("quiz not found")

type Quiz struct {
	ID        uint `gorm:"primaryKey"`
	Title     string
	Questions []Question `gorm:"constraint:OnDelete:CASCADE"`
}

type Question struct {
	ID          uint `gorm:"primaryKey"`
	QuizID      uint `gorm:"index"`
	Text        string
	Type        string
	OrderIndex  int
	TimeLimitMs int64
	Points      int
	Options     []Option `gorm:"constraint:OnDelete:CASCADE"`
}

type Option struct {
	ID         uint `gorm:"primaryKey"`
	QuestionID uint `gorm:"index"`
	Text       string
	OrderIndex int
	IsCorrect  bool
}

type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.AutoMigrate(&Quiz{}, &Question{}, &Option{}, &GameResult{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) LoadQuizSnapshot(ctx context.Context, quizID uint) ([]engine.Question, error) {
	var quiz Quiz
	err := s.db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("order_index ASC") }).
		Preload("Questions.Options", func(db *gorm.DB) *gorm.DB { return db.Order("order_index ASC") }).
		First(&quiz, quizID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrQuizNotFound
	}
	if err != nil {
		return nil, err
	}

	questions := make([]engine.Question, len(quiz.Questions))
	for i, q := range quiz.Questions {
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

func (s *PostgresStore) SaveResults(ctx context.Context, sessionID string, results []GameResult) error {
	if len(results) == 0 {
		return nil
	}
	for i := range results {
		results[i].SessionID = sessionID
	}
	return s.db.WithContext(ctx).Create(&results).Error
}
