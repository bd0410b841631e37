package router

import "strings"

// Phrases holds every user-facing text. Fields ending in Fmt are fmt
// templates; names passed to them are already HTML-escaped.
type Phrases struct {
	Rules           string
	Shrug           string
	AccessDenied    string
	AlreadyInGame   string
	AddedToGame     string
	NotInGame       string
	RemovedFromGame string
	NoPlayers       string
	OnlyOnePlayer   string
	WinnerKnownFmt  string
	NoWinners       string
	PlayersHeader   string
	StatsHeader     string
	StatsRowFmt     string
	StatsFooterFmt  string

	// Suspense has one pool per suspense stage.
	Suspense [][]string
	// WinnerFmt announces a fresh winner.
	WinnerFmt []string
}

func DefaultPhrases() *Phrases {
	return &Phrases{
		Rules: strings.Join([]string{
			"<b>Winner of the day</b>",
			"",
			"1. Join the game with /register (leave with /unregister).",
			"2. Once a day anyone can run /choose_winner.",
			"3. One registered player is picked at random and keeps the title until midnight (UTC+3).",
			"4. /stats shows this month's top winners, /list_players calls everyone in.",
			"",
			"Works in group chats only.",
		}, "\n"),
		Shrug:           `¯\_(ツ)_/¯`,
		AccessDenied:    "Access denied: this command works in group chats only.",
		AlreadyInGame:   "You are already in the game!",
		AddedToGame:     "You are in the game now. Good luck!",
		NotInGame:       "You are not in the game.",
		RemovedFromGame: "You left the game. Come back any time.",
		NoPlayers:       "No players yet. Join with /register.",
		OnlyOnePlayer:   "Only one player registered, nobody to choose from. Invite a friend!",
		WinnerKnownFmt:  "Today's winner is already known: <b>%s</b>.",
		NoWinners:       "No winners this month yet.",
		PlayersHeader:   "Calling all players:",
		StatsHeader:     "<b>Top winners of the month</b>",
		StatsRowFmt:     "%d. %s — %d",
		StatsFooterFmt:  "Players in the game: %d",
		Suspense: [][]string{
			{
				"Starting the daily draw...",
				"Warming up the random number generator...",
				"Attention please, the draw begins!",
			},
			{
				"Shuffling the players...",
				"Checking everyone's alibi...",
				"Consulting the stars...",
			},
			{
				"Almost there...",
				"The result is in...",
				"Drumroll please...",
			},
		},
		WinnerFmt: []string{
			"Today's winner is %s!",
			"And the winner of the day is... %s!",
			"Congratulations, %s, the title is yours until tomorrow!",
		},
	}
}
