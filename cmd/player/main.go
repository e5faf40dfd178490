// Package main is the interactive letter match player.
//
// It asks the server group for a match, then plays rounds in the terminal:
// when a round starts, enter a city, a country and a river starting with the
// round's letter. The first player to finish closes the round for everybody.
//
//	./player -config player.yaml
//	./player -status http://192.168.1.10:8080
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"github.com/dreamware/lettermatch/internal/cluster"
	"github.com/dreamware/lettermatch/internal/config"
	"github.com/dreamware/lettermatch/internal/player"
	"github.com/dreamware/lettermatch/internal/server"
	"github.com/dreamware/lettermatch/internal/transport"
)

var logFatal = log.Fatalf

func main() {
	path := flag.String("config", getenv("SLF_CONFIG", ""), "path to a YAML config file")
	status := flag.String("status", "", "print the status of the server at this base URL and exit")
	verbose := flag.Bool("v", false, "log transport activity")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *status != "" {
		if err := printStatus(ctx, *status); err != nil {
			logFatal("status: %v", err)
		}
		return
	}

	if !*verbose {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.Load(*path)
	if err != nil {
		logFatal("config: %v", err)
	}
	if err := play(ctx, cfg); err != nil {
		logFatal("player: %v", err)
	}
}

func play(ctx context.Context, cfg config.Config) error {
	id, err := player.LoadIdentity(cfg.IdentityFile)
	if err != nil {
		return err
	}

	opts := []transport.UDPOption{transport.WithMulticastLoopback(cfg.Loopback)}
	control, err := transport.ListenUDP(ctx, 0, opts...)
	if err != nil {
		return err
	}
	matchConn, err := transport.ListenUDP(ctx, cfg.MatchPort, opts...)
	if err != nil {
		control.Close()
		return err
	}

	c := player.New(id, cfg, player.Deps{Control: control, Match: matchConn})
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	pterm.DefaultHeader.Println("Letter Match")
	pterm.Info.Printfln("You are %s", pterm.LightCyan(id.Short()))

	g := &game{client: c, self: id}
	if err := g.request(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return <-done
		case err := <-done:
			return err
		case n := <-c.Notifications():
			again, err := g.handle(n)
			if err != nil {
				return err
			}
			if !again {
				cancel()
				return <-done
			}
		}
	}
}

// game is driven by the notification loop. Only answer runs elsewhere.
type game struct {
	client  *player.Client
	self    cluster.PeerID
	spinner *pterm.SpinnerPrinter
}

func (g *game) request() error {
	g.spinner, _ = pterm.DefaultSpinner.Start("Looking for a match ...")
	return g.client.RequestMatch()
}

func (g *game) stopSpinner() {
	if g.spinner != nil {
		_ = g.spinner.Stop()
		g.spinner = nil
	}
}

// handle renders n and reports whether the session continues.
func (g *game) handle(n player.Notification) (bool, error) {
	switch n.Kind {
	case player.MatchAssigned:
		g.stopSpinner()
		pterm.Info.Printfln("Assigned to server %s at %s", n.Server.Short(), n.ServerAddr)
	case player.JoinAccepted:
		pterm.Success.Printfln("Joined match %s", n.MatchID.String()[:8])
		g.spinner, _ = pterm.DefaultSpinner.Start("Waiting for the round to start ...")
	case player.JoinDenied, player.CoordinatorLost:
		g.stopSpinner()
		pterm.Warning.Println(n.Reason)
		return g.retry()
	case player.PlayerJoined:
		if n.Player != g.self {
			pterm.Info.Printfln("%s joined the match", pterm.LightCyan(n.Player.Short()))
		}
	case player.RoundStarted:
		g.stopSpinner()
		pterm.DefaultSection.Printfln("Round %d: letter %s", n.Round, pterm.LightYellow(strings.ToUpper(n.Letter)))
		go g.answer(n.Letter)
	case player.RoundFinished:
		if n.Player != g.self {
			pterm.Warning.Printfln("%s finished round %d, submit now!", n.Player.Short(), n.Round)
		}
	case player.RoundResults:
		pterm.DefaultSection.Printfln("Results of round %d", n.Round)
		if err := pterm.DefaultTable.WithHasHeader().WithData(resultsTable(n.Results, g.self)).Render(); err != nil {
			return false, err
		}
	case player.MatchEnded:
		g.stopSpinner()
		pterm.DefaultSection.Println("Final scores")
		if err := pterm.DefaultTable.WithHasHeader().WithData(scoresTable(n.Scores, g.self)).Render(); err != nil {
			return false, err
		}
		pterm.Success.Println(verdict(n.Scores, g.self))
		return confirm("Play another match?")
	}
	return true, nil
}

func (g *game) retry() (bool, error) {
	again, err := confirm("Try again?")
	if err != nil || !again {
		return false, err
	}
	time.Sleep(time.Second)
	return true, g.request()
}

// answer prompts for the three words, finishes the round and submits them.
func (g *game) answer(letter string) {
	hint := strings.ToUpper(letter)
	city, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("City (" + hint + ")").Show()
	country, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Country (" + hint + ")").Show()
	river, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("River (" + hint + ")").Show()

	if err := g.client.FinishRound(); err != nil {
		pterm.Error.Printfln("finish round: %v", err)
		return
	}
	if err := g.client.SubmitWords(city, country, river); err != nil {
		pterm.Error.Printfln("submit: %v", err)
		return
	}
	pterm.Info.Println("Answers sent, waiting for results ...")
}

func confirm(text string) (bool, error) {
	return pterm.DefaultInteractiveConfirm.WithDefaultText(text).WithDefaultValue(true).Show()
}

func printStatus(ctx context.Context, base string) error {
	var st server.Status
	if err := cluster.GetJSON(ctx, strings.TrimRight(base, "/")+"/status", &st); err != nil {
		return err
	}
	return pterm.DefaultTable.WithHasHeader().WithData(statusTable(st)).Render()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
