package main

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"

	"github.com/dreamware/lettermatch/internal/cluster"
	"github.com/dreamware/lettermatch/internal/server"
	"github.com/dreamware/lettermatch/internal/wire"
)

func name(id, self cluster.PeerID) string {
	if id == self {
		return id.Short() + " (you)"
	}
	return id.Short()
}

func word(text string, accepted bool) string {
	switch {
	case text == "":
		return "-"
	case accepted:
		return text
	default:
		return text + " ✗"
	}
}

func resultsTable(results []wire.PlayerResult, self cluster.PeerID) pterm.TableData {
	data := pterm.TableData{{"Player", "City", "Country", "River", "Points"}}
	for _, r := range results {
		data = append(data, []string{
			name(r.Player, self),
			word(r.City, r.CityAccepted),
			word(r.Country, r.CountryAccepted),
			word(r.River, r.RiverAccepted),
			strconv.Itoa(int(r.Score)),
		})
	}
	return data
}

func scoresTable(scores []wire.PlayerScore, self cluster.PeerID) pterm.TableData {
	data := pterm.TableData{{"Player", "Score"}}
	for _, s := range scores {
		data = append(data, []string{name(s.Player, self), strconv.Itoa(int(s.Score))})
	}
	return data
}

// verdict names the winner, or the players sharing the top score.
func verdict(scores []wire.PlayerScore, self cluster.PeerID) string {
	if len(scores) == 0 {
		return "Nobody played."
	}
	best := scores[0].Score
	for _, s := range scores[1:] {
		best = max(best, s.Score)
	}
	var top []cluster.PeerID
	for _, s := range scores {
		if s.Score == best {
			top = append(top, s.Player)
		}
	}
	switch {
	case len(top) > 1:
		return fmt.Sprintf("Draw between %d players with %d points.", len(top), best)
	case top[0] == self:
		return fmt.Sprintf("You win with %d points!", best)
	default:
		return fmt.Sprintf("%s wins with %d points.", top[0].Short(), best)
	}
}

func statusTable(st server.Status) pterm.TableData {
	leader := "none"
	if st.Leader != nil {
		leader = fmt.Sprintf("%s @ %s", st.Leader.ID.Short(), st.Leader.Addr)
	}
	match := "none"
	if st.Match.HasMatch {
		match = fmt.Sprintf("%s round %d, %d/%d players", st.Match.MatchID.String()[:8], st.Match.Round, len(st.Match.Players), st.Match.MaxPlayers)
	}
	return pterm.TableData{
		{"Field", "Value"},
		{"Server", st.ID.Short()},
		{"Election", st.ElectionState.String()},
		{"Leader", leader},
		{"Known servers", strconv.Itoa(len(st.Known))},
		{"Match group", st.MatchGroup.String()},
		{"Match", match},
		{"Matches played", strconv.Itoa(st.Match.Finished)},
		{"Uptime", st.Uptime},
	}
}
