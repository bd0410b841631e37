package game

import (
	"cmp"
	"slices"
	"strings"
)

// Standing is one leaderboard row.
type Standing struct {
	UserID int64
	Wins   int
}

// TopWinnersOfMonth ranks the chat's winners in the current month.
func (g *Game) TopWinnersOfMonth(chatID int64) []Standing {
	month := g.Today()[:len("2006-01")]
	return TopWinners(g.store.Winners(chatID), month, g.opts.LeaderboardSize)
}

// TopWinners counts wins per user over the days starting with month
// (YYYY-MM), most wins first, ties going to the user whose first win in the
// month came earlier. At most limit rows are returned.
func TopWinners(winners map[string]int64, month string, limit int) []Standing {
	type tally struct {
		userID int64
		wins   int
		first  string
	}

	byUser := make(map[int64]*tally)
	for day, userID := range winners {
		if !strings.HasPrefix(day, month) {
			continue
		}
		t, ok := byUser[userID]
		if !ok {
			t = &tally{userID: userID, first: day}
			byUser[userID] = t
		}
		t.wins++
		if day < t.first {
			t.first = day
		}
	}

	tallies := make([]*tally, 0, len(byUser))
	for _, t := range byUser {
		tallies = append(tallies, t)
	}
	slices.SortFunc(tallies, func(a, b *tally) int {
		if c := cmp.Compare(b.wins, a.wins); c != 0 {
			return c
		}
		return cmp.Compare(a.first, b.first)
	})

	if limit > 0 && len(tallies) > limit {
		tallies = tallies[:limit]
	}
	standings := make([]Standing, len(tallies))
	for i, t := range tallies {
		standings[i] = Standing{UserID: t.userID, Wins: t.wins}
	}
	return standings
}
