// Package main runs one letter match server.
//
// A server joins the server group and takes part in the coordinator election.
// It hosts at most one match on its own match group. HTTP routes:
//
//	/health   liveness probe
//	/status   JSON snapshot of election, registry, match and transports
//
// Configuration comes from the YAML file named by -config or SLF_CONFIG and
// from SLF_* environment variables. The election runs over TCP on the
// election port, so run one server per host.
//
//	SLF_ADVERTISE_ADDR=192.168.1.10 ./server -config server.yaml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamware/lettermatch/internal/cluster"
	"github.com/dreamware/lettermatch/internal/config"
	"github.com/dreamware/lettermatch/internal/election"
	"github.com/dreamware/lettermatch/internal/server"
	"github.com/dreamware/lettermatch/internal/transport"
	"github.com/dreamware/lettermatch/internal/words"
)

// logFatal is a variable so tests can intercept fatal errors.
var logFatal = log.Fatalf

func main() {
	path := flag.String("config", getenv("SLF_CONFIG", ""), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		logFatal("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logFatal("server: %v", err)
	}
	log.Println("server stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	list, err := words.Load(cfg.WordsDir)
	if err != nil {
		return err
	}
	opts, err := udpOptions(cfg)
	if err != nil {
		return err
	}
	groupConn, err := transport.ListenUDP(ctx, cfg.GroupPort, opts...)
	if err != nil {
		return err
	}
	matchConn, err := transport.ListenUDP(ctx, cfg.MatchPort, opts...)
	if err != nil {
		groupConn.Close()
		return err
	}

	srv := server.New(cluster.NewPeerID(), cfg, server.Deps{
		Group:  groupConn,
		Match:  matchConn,
		Direct: election.NewTCPSender(cfg.ElectionPort),
		Words:  list,
	})

	ln, err := election.ListenTCP(ctx, netip.AddrPortFrom(netip.IPv4Unspecified(), cfg.ElectionPort), srv.HandleDirect)
	if err != nil {
		groupConn.Close()
		matchConn.Close()
		return err
	}
	defer ln.Close()

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newMux(srv),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("server %s listening on %s", srv.ID().Short(), cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logFatal("listen: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	return srv.Run(ctx)
}

func udpOptions(cfg config.Config) ([]transport.UDPOption, error) {
	opts := []transport.UDPOption{transport.WithMulticastLoopback(cfg.Loopback)}
	if cfg.Interface != "" {
		ifi, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("interface %q: %w", cfg.Interface, err)
		}
		opts = append(opts, transport.WithInterface(ifi))
	}
	return opts, nil
}

type statusSource interface {
	Status() server.Status
}

func newMux(src statusSource) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		handleStatus(src, w, r)
	})
	return mux
}

func handleStatus(src statusSource, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(src.Status()); err != nil {
		log.Printf("status: %v", err)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
