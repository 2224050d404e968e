package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kojira/ai-rss-reader/internal/common"
	"github.com/kojira/ai-rss-reader/internal/evaluator"
	"github.com/kojira/ai-rss-reader/internal/extractor"
	"github.com/kojira/ai-rss-reader/internal/feeds"
	"github.com/kojira/ai-rss-reader/internal/fetcher"
	"github.com/kojira/ai-rss-reader/internal/interfaces"
	"github.com/kojira/ai-rss-reader/internal/models"
	"github.com/kojira/ai-rss-reader/internal/notifier"
	badgerstorage "github.com/kojira/ai-rss-reader/internal/storage/badger"
	"github.com/kojira/ai-rss-reader/internal/worker"
)

// multiFlag collects repeated -config values.
type multiFlag []string

func (m *multiFlag) String() string { return fmt.Sprintf("%v", *m) }
func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func main() {
	var configPaths multiFlag
	flag.Var(&configPaths, "config", "Path to a TOML config file (repeatable; later files override earlier)")
	runWorker := flag.Bool("worker", false, "Run one ingestion cycle in this process")
	ingestURL := flag.String("ingest", "", "Crawl and evaluate a single URL synchronously")
	retryID := flag.String("retry", "", "Re-run the pipeline for an article or error record ID")
	showStatus := flag.Bool("status", false, "Print the crawler status and recent errors")
	startWorker := flag.Bool("start", false, "Spawn a detached worker process")
	stopWorker := flag.Bool("stop", false, "Signal the running worker to stop")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(common.GetVersion())
		return
	}

	config, err := common.LoadFromFiles(configPaths...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	storage, err := badgerstorage.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer storage.Close()

	fetchSvc := fetcher.NewService(&config.Fetch, storage.Blocklist(), logger)
	extractSvc := extractor.NewService(logger)
	collector := feeds.NewCollector(storage.Sources(), storage.Articles(), fetchSvc, logger)
	notifySvc := notifier.NewService(logger)
	evalFactory := func(settings *models.Settings) interfaces.Evaluator {
		return evaluator.NewService(&config.LLM, settings, logger)
	}

	w := worker.NewWorker(config, storage, fetchSvc, extractSvc, collector, notifySvc, evalFactory, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch {
	case *startWorker:
		pid, err := worker.Start(storage, configPaths, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to start worker")
		}
		fmt.Printf("Worker started with PID %d\n", pid)

	case *stopWorker:
		if err := worker.Stop(storage, logger); err != nil {
			logger.Fatal().Err(err).Msg("Failed to stop worker")
		}
		fmt.Println("Stop signal sent")

	case *showStatus:
		report, err := worker.Status(storage)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to read status")
		}
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))

	case *ingestURL != "":
		article, err := w.IngestURL(ctx, *ingestURL)
		if err != nil {
			logger.Fatal().Err(err).Str("url", *ingestURL).Msg("Ingest failed")
		}
		out, _ := json.MarshalIndent(article, "", "  ")
		fmt.Println(string(out))

	case *retryID != "":
		article, err := w.Retry(ctx, *retryID)
		if err != nil {
			logger.Fatal().Err(err).Str("id", *retryID).Msg("Retry failed")
		}
		out, _ := json.MarshalIndent(article, "", "  ")
		fmt.Println(string(out))

	case *runWorker:
		fallthrough
	default:
		if err := w.RunCycle(ctx); err != nil {
			if errors.Is(err, worker.ErrLeaseHeld) {
				logger.Info().Msg("Another worker is running, exiting")
				return
			}
			logger.Fatal().Err(err).Msg("Cycle failed")
		}
	}
}
