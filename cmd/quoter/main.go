package main

import (
	"context"
	"encoding/hex"
	"flag"
	"net/http"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"quotebot-go/internal/config"
	"quotebot-go/internal/engine"
	"quotebot-go/internal/exchange"
	"quotebot-go/internal/execution"
	"quotebot-go/internal/metrics"
	"quotebot-go/internal/paper"
	"quotebot-go/internal/signer"
	"quotebot-go/internal/strategy"
	"quotebot-go/internal/util"
)

func main() {
	configPath := flag.String("config", "", "config file (default: config.json beside the executable)")
	checkOnly := flag.Bool("check", false, "load config and signing key, print them redacted, then exit")
	flag.Parse()

	log := util.NewLogger("info", "console")

	path := config.Locate(*configPath)
	cfg, err := config.Load(path)
	if err != nil {
		fatal(log, nil, err, "load config")
	}
	log = util.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ev := log.Info().Str("path", path)
	for _, f := range cfg.Redacted() {
		ev = ev.Str(f.Key, f.Value)
	}
	ev.Msg("config loaded")

	sgn, err := signer.New(cfg.PrivateKeyHex)
	if err != nil {
		fatal(log, cfg, err, "signing key")
	}
	pub := sgn.PublicKey()
	log.Info().Str("public_key", hex.EncodeToString(pub[:])).Msg("signing key ready")
	if *checkOnly {
		return
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = metrics.Serve(cfg.MetricsAddr, log)
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics up")
	}

	feed := exchange.NewPriceFeed(cfg.WSURL, cfg.Symbol, log)

	var venue execution.Venue = exchange.NewClient(cfg.BaseURL, cfg.JWTToken, sgn, log, exchange.WithTimeout(cfg.RequestTimeout()))
	if cfg.DryRun {
		venue = paper.NewVenue()
		log.Warn().Msg("dry run: orders are kept in memory and never sent")
	}

	quoter := strategy.NewSymmetric(cfg.TargetBps, cfg.OrderQty)
	eng := engine.New(
		engine.Config{Symbol: cfg.Symbol, RefreshInterval: cfg.RefreshInterval()},
		feed,
		execution.NewExecutor(venue, log.With().Str("component", "orders").Logger()),
		quoter,
		log,
	)

	if schedule := cfg.Schedule(); schedule != "" {
		reporter, err := engine.NewStatusReporter(schedule, eng, feed, log)
		if err != nil {
			fatal(log, cfg, err, "status reporter")
		}
		reporter.Start()
		defer reporter.Stop()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = feed.Run(ctx)
	}()

	_ = eng.Run(ctx)
	wg.Wait()
	if err := metrics.Shutdown(metricsSrv); err != nil {
		log.Warn().Err(err).Msg("metrics shutdown")
	}
	log.Info().Msg("shut down")
}

// fatal reports a startup failure, lingers so a double-clicked console window
// stays readable, then exits non-zero.
func fatal(log zerolog.Logger, cfg *config.Config, err error, msg string) {
	pause := cfg.FatalPauseDuration()
	log.Error().Err(err).Dur("exit_in", pause).Msg(msg)
	time.Sleep(pause)
	os.Exit(1)
}
