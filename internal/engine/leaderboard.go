package engine

import "sort"

type LeaderboardEntry struct {
	PlayerID string
	Nickname string
	Score    int
	Rank     int
}

// Leaderboard returns the standings sorted by score descending, ties broken
// by join order. The sort is stable over the join-order slice, so the order
// is strict and ranks are injective even when scores collide.
func Leaderboard(s State) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(s.JoinOrder))
	for _, id := range s.JoinOrder {
		p := s.Players[id]
		entries = append(entries, LeaderboardEntry{PlayerID: p.ID, Nickname: p.Nickname, Score: p.Score})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
