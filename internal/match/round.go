package match

import (
	"strings"

	"golang.org/x/exp/slices"

	"github.com/dreamware/lettermatch/internal/cluster"
	"github.com/dreamware/lettermatch/internal/wire"
	"github.com/dreamware/lettermatch/internal/words"
)

// Points awarded per category.
const (
	ScoreRejected = 0
	ScoreAccepted = 5
	ScoreUnique   = 10
	ScoreSole     = 20
)

// Answer is one submitted word and whether the word list accepted it.
type Answer struct {
	Text     string `json:"text"`
	Accepted bool   `json:"accepted"`
}

// Answers is one player's submission for a round.
type Answers struct {
	City    Answer `json:"city"`
	Country Answer `json:"country"`
	River   Answer `json:"river"`
}

// Get returns the answer given for cat.
func (a Answers) Get(cat words.Category) Answer {
	switch cat {
	case words.City:
		return a.City
	case words.Country:
		return a.Country
	default:
		return a.River
	}
}

// Round holds the letter and the answers recorded while it was open.
type Round struct {
	Number  int
	Letter  string
	Answers map[cluster.PeerID]Answers
}

// NewRound returns an empty round played with letter.
func NewRound(number int, letter string) *Round {
	return &Round{Number: number, Letter: letter, Answers: make(map[cluster.PeerID]Answers)}
}

// Validate checks a submission against v and returns the recorded form.
func Validate(v words.Validator, letter string, m *wire.SubmitWords) Answers {
	return Answers{
		City:    Answer{Text: m.City, Accepted: v.Validate(words.City, m.City, letter)},
		Country: Answer{Text: m.Country, Accepted: v.Validate(words.Country, m.Country, letter)},
		River:   Answer{Text: m.River, Accepted: v.Validate(words.River, m.River, letter)},
	}
}

// Record stores a player's answers, replacing an earlier submission.
func (r *Round) Record(player cluster.PeerID, a Answers) {
	r.Answers[player] = a
}

// CategoryScore scores one player's answer in one category against every
// other answer of the round.
func (r *Round) CategoryScore(player cluster.PeerID, cat words.Category) int {
	own := r.Answers[player].Get(cat)
	if !own.Accepted {
		return ScoreRejected
	}

	unique, sole := true, true
	for other, a := range r.Answers {
		if other == player {
			continue
		}
		text := strings.TrimSpace(a.Get(cat).Text)
		if text == "" {
			continue
		}
		sole = false
		if strings.EqualFold(text, strings.TrimSpace(own.Text)) {
			unique = false
		}
	}

	switch {
	case sole:
		return ScoreSole
	case unique:
		return ScoreUnique
	default:
		return ScoreAccepted
	}
}

// Score is a player's total for the round. Players without a submission
// score 0.
func (r *Round) Score(player cluster.PeerID) int {
	if _, ok := r.Answers[player]; !ok {
		return 0
	}
	total := 0
	for _, cat := range words.Categories {
		total += r.CategoryScore(player, cat)
	}
	return total
}

// Results renders the round for a RoundResult, ordered by player id.
func (r *Round) Results() []wire.PlayerResult {
	out := make([]wire.PlayerResult, 0, len(r.Answers))
	for player, a := range r.Answers {
		out = append(out, wire.PlayerResult{
			Player:          player,
			City:            a.City.Text,
			CityAccepted:    a.City.Accepted,
			Country:         a.Country.Text,
			CountryAccepted: a.Country.Accepted,
			River:           a.River.Text,
			RiverAccepted:   a.River.Accepted,
			Score:           int32(r.Score(player)),
		})
	}
	slices.SortFunc(out, func(a, b wire.PlayerResult) int { return a.Player.Compare(b.Player) })
	return out
}

// Totals sums every player's score over rounds. Every listed player appears,
// including those who never submitted.
func Totals(players []cluster.PeerID, rounds []*Round) []wire.PlayerScore {
	sums := make(map[cluster.PeerID]int, len(players))
	for _, p := range players {
		sums[p] = 0
	}
	for _, r := range rounds {
		for p := range r.Answers {
			sums[p] += r.Score(p)
		}
	}

	out := make([]wire.PlayerScore, 0, len(sums))
	for p, s := range sums {
		out = append(out, wire.PlayerScore{Player: p, Score: int32(s)})
	}
	slices.SortFunc(out, func(a, b wire.PlayerScore) int { return a.Player.Compare(b.Player) })
	return out
}
