// Command replica runs one member of a raftkv cluster. Per spec.md
// section 6 it takes its UDP port, its own id, and every peer id as
// positional arguments; an optional -config flag points at a YAML file
// overlaying the pacing and diagnostics defaults in internal/config.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kelridge/raftkv/internal/api"
	"github.com/kelridge/raftkv/internal/config"
	"github.com/kelridge/raftkv/internal/raft"
	"github.com/kelridge/raftkv/internal/store"
	"github.com/kelridge/raftkv/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "optional YAML file overlaying replica defaults")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: replica [-config file] <port> <id> [peer_id...]")
		os.Exit(1)
	}
	harnessPort, err := parsePort(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid port %q: %v\n", args[0], err)
		os.Exit(1)
	}
	id := args[1]
	peers := args[2:]

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %q: %v\n", *configPath, err)
		os.Exit(1)
	}
	setupLogging(id, cfg.LogLevel)

	electionMin, electionMax, heartbeat, appendInterval, poll, chunkSize := cfg.Pacing.Durations()
	pacing := raft.Pacing{
		ElectionTimeoutMin: electionMin,
		ElectionTimeoutMax: electionMax,
		HeartbeatInterval:  heartbeat,
		AppendInterval:     appendInterval,
		PollTimeout:        poll,
		ChunkSize:          chunkSize,
	}

	tr, err := transport.NewUDPTransport(harnessPort)
	if err != nil {
		log.Fatal().Err(err).Int("port", harnessPort).Msg("failed to bind transport")
	}
	defer tr.Close()

	kv := store.New()
	replica := raft.NewReplica(id, peers, tr, kv, pacing)

	if cfg.HTTPAddr != "" {
		server := api.New(replica, cfg.HTTPAddr)
		go func() {
			if err := server.Run(); err != nil {
				log.Fatal().Err(err).Str("addr", cfg.HTTPAddr).Msg("introspection listener failed")
			}
		}()
	}

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		close(stop)
	}()

	log.Info().Str("id", id).Int("harness_port", harnessPort).Strs("peers", peers).Msg("replica starting")
	replica.Run(stop)
}

func parsePort(s string) (int, error) {
	var port int
	_, err := fmt.Sscanf(s, "%d", &port)
	return port, err
}

func setupLogging(id, level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	logFile, err := os.OpenFile(id+".log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Fatal().Err(err).Str("id", id).Msg("failed to open per-replica log file")
	}
	log.Logger = log.Output(zerolog.MultiLevelWriter(os.Stderr, logFile))
}
