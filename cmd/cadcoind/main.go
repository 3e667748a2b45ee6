// Command cadcoind runs the CAD-COIN ledger daemon.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cadcoin/cadcoind/config"
	"github.com/cadcoin/cadcoind/internal/log"
	"github.com/cadcoin/cadcoind/internal/node"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		log.Fatal().Err(err).Msg("logger initialization failed")
	}

	n, err := node.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("node initialization failed")
	}
	if err := n.Start(); err != nil {
		log.Fatal().Err(err).Msg("node start failed")
	}
	log.Info().Str("addr", n.Addr()).Msg("cadcoind running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := n.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
		os.Exit(1)
	}
}
