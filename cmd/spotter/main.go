package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"spotter/internal/api"
	"spotter/internal/auth"
	"spotter/internal/capture"
	"spotter/internal/detector"
	"spotter/internal/ledger"
	"spotter/internal/metrics"
	"spotter/internal/session"
	"spotter/internal/ws"
)

func main() {
	// Define command line flags, add any other flag required to configure the
	// service.
	var (
		hostF        = flag.String("host", "0.0.0.0", "Server host")
		httpPortF    = flag.String("http-port", "8080", "HTTP port")
		detectorF    = flag.String("detector-url", envOr("DETECTOR_URL", "http://localhost:9090"), "Remote detector endpoint")
		dbF          = flag.String("db", envOr("LEDGER_DB", "spotter.db"), "Credit ledger SQLite path")
		initCreditsF = flag.Int("initial-credits", 0, "Credits granted to the operator account on startup")
		callTimeoutF = flag.Duration("detect-timeout", 15*time.Second, "Remote detection call timeout")
	)
	flag.Parse()

	// Setup logger. Replace logger with your own log package of choice.
	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[spotter] ", log.Ltime)
	}

	// Credit ledger
	store, err := ledger.Open(*dbF)
	if err != nil {
		logger.Fatalf("opening ledger: %v", err)
	}
	defer store.Close()

	// Operator authentication
	authenticator := auth.NewAuthenticator()
	if *initCreditsF > 0 {
		balance, err := store.Grant(authenticator.UserID(), *initCreditsF)
		if err != nil {
			logger.Fatalf("granting initial credits: %v", err)
		}
		logger.Printf("operator %s starts with %d credits", authenticator.UserID(), balance)
	}

	// Remote detector client
	det := detector.New(detector.Config{
		Endpoint: *detectorF,
		Timeout:  *callTimeoutF,
	})
	if !det.IsHealthy() {
		logger.Printf("warning: detector at %s is not healthy yet", *detectorF)
	}

	// Capture, hub, metrics, sessions
	source := capture.NewFFmpegSource()
	hub := ws.NewDetectionHub()
	mets := metrics.New()
	manager := session.NewManager(session.DefaultGlobalConfig(), det, store, source, api.NewHubPublisher(hub), mets)

	server := api.NewServer(manager, store, authenticator, det, hub, mets, logger)

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	// Setup interrupt handler. This optional step configures the process so
	// that SIGINT and SIGTERM signals cause the services to stop gracefully.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	addr := net.JoinHostPort(*hostF, *httpPortF)
	handleHTTPServer(ctx, addr, server.Routes(), &wg, errc, logger)

	// Wait for signal.
	logger.Printf("exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()

	manager.StopAll()
	wg.Wait()
	logger.Println("exited")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
