package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/skypro1111/tcp-collector/internal/client"
	"github.com/skypro1111/tcp-collector/internal/config"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Collector configuration to take the address and client count from")
	addr := flag.String("addr", "", "Collector address (overrides the configuration)")
	clients := flag.Int("clients", 0, "Number of concurrent clients (overrides the configuration)")
	delay := flag.Duration("delay", 10*time.Millisecond, "Pause after each message")
	concurrency := flag.Int("concurrency", 0, "Maximum clients connected at once (0 means all)")
	messages := flag.String("messages", strings.Join(client.DefaultMessages, ","), "Comma separated messages every client sends")
	flag.Parse()

	// Flags override the collector configuration
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *addr == "" {
		*addr = cfg.Server.ListenAddr()
	}
	if *clients <= 0 {
		*clients = cfg.Server.MaxClients
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	msgs := strings.Split(*messages, ",")

	// Bound how many clients are connected at once
	limit := *concurrency
	if limit <= 0 || limit > *clients {
		limit = *clients
	}
	sem := semaphore.NewWeighted(int64(limit))

	g, ctx := errgroup.WithContext(ctx)
	for id := 1; id <= *clients; id++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		id := id
		g.Go(func() error {
			defer sem.Release(1)

			sent, err := client.Send(ctx, client.Config{
				Addr:     *addr,
				ClientID: id,
				Messages: msgs,
				Delay:    *delay,
			}, logger)
			logger.Info("Client finished", slog.Int("client_id", id), slog.Int("sent", sent))
			return err
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Client run failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
