package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeaderboard_ScoreDescJoinOrderTieBreak(t *testing.T) {
	s := NewState("123456", false, twoQuestions(), DefaultScoring(), 5000)
	for i, nick := range []string{"first", "second", "third", "fourth"} {
		var err error
		_, s, err = Apply(s, Command{Type: CmdJoin, PlayerID: playerID(i), Nickname: nick})
		require.NoError(t, err)
	}
	s.Players[playerID(0)].Score = 500
	s.Players[playerID(1)].Score = 900
	s.Players[playerID(2)].Score = 500 // tie with first; joined later, ranks below
	s.Players[playerID(3)].Score = 0

	entries := Leaderboard(s)
	require.Len(t, entries, 4)

	require.Equal(t, "second", entries[0].Nickname)
	require.Equal(t, "first", entries[1].Nickname)
	require.Equal(t, "third", entries[2].Nickname)
	require.Equal(t, "fourth", entries[3].Nickname)

	seen := map[int]bool{}
	for i, e := range entries {
		require.Equal(t, i+1, e.Rank)
		require.False(t, seen[e.Rank], "ranks must be injective")
		seen[e.Rank] = true
	}
}

func TestLeaderboard_TwoPlayerScenario(t *testing.T) {
	s := NewState("123456", false, []Question{{
		Text:        "q",
		Options:     []Option{{Text: "right", Correct: true}, {Text: "wrong"}},
		TimeLimitMs: 20000,
		Points:      1000,
	}}, DefaultScoring(), 5000)

	var err error
	_, s, err = Apply(s, Command{Type: CmdJoin, PlayerID: "a", Nickname: "A"})
	require.NoError(t, err)
	_, s, err = Apply(s, Command{Type: CmdJoin, PlayerID: "b", Nickname: "B"})
	require.NoError(t, err)
	_, s, err = Apply(s, Command{Type: CmdStart})
	require.NoError(t, err)

	_, s, err = Apply(s, Command{Type: CmdSubmitAnswer, PlayerID: "a", QuestionIndex: 0, OptionIndex: 0, OffsetMs: 2000})
	require.NoError(t, err)
	_, s, err = Apply(s, Command{Type: CmdSubmitAnswer, PlayerID: "b", QuestionIndex: 0, OptionIndex: 0, OffsetMs: 18000})
	require.NoError(t, err)

	entries := Leaderboard(s)
	require.Equal(t, 950, entries[0].Score)
	require.Equal(t, "A", entries[0].Nickname)
	require.Equal(t, 1, entries[0].Rank)
	require.Equal(t, 550, entries[1].Score)
	require.Equal(t, "B", entries[1].Nickname)
	require.Equal(t, 2, entries[1].Rank)
}
