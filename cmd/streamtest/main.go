// streamtest connects to a relay, authenticates, optionally sends one chat
// message, and streams notifications to the console. The full client stack
// runs underneath: connection manager, message channel, reconciliation
// store, and stream controller with reconnect.
//
// Usage:
//
//	streamtest --relay http://localhost:8080 --token $PRAXIS_TOKEN \
//	    --conversation conv-1 --message "hello"
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

	"github.com/praxisworks/praxis-realtime/internal/catchup"
	"github.com/praxisworks/praxis-realtime/internal/connection"
	"github.com/praxisworks/praxis-realtime/internal/message"
	"github.com/praxisworks/praxis-realtime/internal/model"
	"github.com/praxisworks/praxis-realtime/internal/store"
	"github.com/praxisworks/praxis-realtime/internal/stream"
)

// consoleNotifier prints events instead of raising desktop notifications.
type consoleNotifier struct{}

func (consoleNotifier) Notify(title, body string) error {
	fmt.Printf("[notify] %s: %s\n", title, body)
	return nil
}

func main() {
	relayURL := flag.String("relay", "http://localhost:8080", "relay base URL")
	token := flag.String("token", os.Getenv("PRAXIS_TOKEN"), "session token (defaults to PRAXIS_TOKEN)")
	conversation := flag.String("conversation", "", "conversation to send a message into")
	text := flag.String("message", "", "message content to send after authenticating")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	if *token == "" {
		logger.Error("no session token: set --token or PRAXIS_TOKEN")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(*relayURL, "http") + "/ws"

	connCfg := connection.DefaultManagerConfig()
	connCfg.URL = wsURL
	connCfg.Token = *token
	connCfg.ClientInfo = map[string]string{"app": "streamtest"}
	conn := connection.NewManager(connCfg, logger)

	channel := message.NewChannel(conn, logger)
	channel.Attach(conn)

	fetcher := catchup.NewClient(*relayURL, *token, catchup.WithLogger(logger))
	st := store.NewStore(fetcher, logger)

	controller := stream.NewController(conn, st, logger,
		stream.WithNotifier(consoleNotifier{}))

	if err := controller.Start(ctx); err != nil {
		logger.Error("failed to start stream", "error", err)
		os.Exit(1)
	}

	// Wait for authentication before sending
	if *text != "" {
		if *conversation == "" {
			logger.Error("--message requires --conversation")
			os.Exit(1)
		}
		if err := waitForAuth(ctx, conn); err != nil {
			logger.Error("authentication did not complete", "error", err)
			os.Exit(1)
		}

		pending, err := channel.Send(*conversation, *text)
		if err != nil {
			logger.Error("send failed", "error", err)
			os.Exit(1)
		}
		ack, err := pending.Ack(ctx)
		if err != nil {
			logger.Error("no ack", "error", err, "client_id", pending.ClientID)
			os.Exit(1)
		}
		fmt.Printf("[ack] message_id=%s seq=%d server_ts=%s client_id=%s\n",
			ack.MessageID, ack.Seq, ack.ServerTS.Format(time.RFC3339), ack.ClientID)
	}

	logger.Info("streaming notifications, ctrl-c to exit")
	<-ctx.Done()

	controller.Stop()
	printSummary(st)
}

func waitForAuth(ctx context.Context, conn *connection.Manager) error {
	deadline := time.After(15 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("timed out in state %s", conn.State())
		case <-tick.C:
			switch conn.State() {
			case connection.StateAuthenticated:
				return nil
			case connection.StateAuthFailed:
				return fmt.Errorf("authentication rejected")
			}
		}
	}
}

func printSummary(st *store.Store) {
	fmt.Println("\nunread by category:")
	for _, category := range model.Categories {
		if n := st.UnreadCount(category); n > 0 {
			fmt.Printf("  %-8s %d\n", category, n)
		}
	}
	fmt.Printf("total unread: %d\n", st.TotalUnread())
}
