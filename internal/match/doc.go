// Package match runs word-game matches on a server.
//
// A match starts when the first player joins a server without one. Each
// round announces a letter; players race to name a city, a country and a
// river starting with it. The first RoundFinish opens a short collection
// window, answers arriving inside it are validated and recorded, and when the
// window closes the server broadcasts the round result. After a pause the
// next round starts, or the match ends with the total scores.
//
//	NoMatch ──join──► RoundInProgress ──RoundFinish──► CollectingAnswers
//	   ▲                     ▲                               │
//	   │                     └──────── pause over ───────────┤
//	   └──────────────── last round, MatchEnd ───────────────┘
//
// Scoring per category: 0 for a rejected answer, 5 for an accepted one, 10
// when no other player gave the same answer and 20 when no other player gave
// any answer at all. Answers compare case-insensitively, ignoring
// surrounding space.
//
// The Orchestrator is an actor: deliveries and timer expirations are events
// handled by a single goroutine, so a timer firing and a message arriving are
// always ordered. Timers are never cancelled; a late timer for a round that
// is already over is recognised and ignored.
package match
