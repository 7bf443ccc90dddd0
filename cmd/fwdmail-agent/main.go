// Package main is the entry point for the fwdmail sending agent: it
// collects message fields interactively and runs one SMTP transaction
// against the target server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fwdmail/fwdmail/internal/agent"
	"github.com/fwdmail/fwdmail/internal/smtp"
)

func main() {
	addr := flag.String("addr", "localhost:2525", "SMTP server address (host:port)")
	timeout := flag.Duration("timeout", 30*time.Second, "overall transaction timeout")
	verbose := flag.Bool("v", false, "log the SMTP exchange")
	flag.Parse()

	setupLogger(*verbose)

	fields, err := agent.ReadFields(os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	msg, err := fields.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	result, err := smtp.Send(context.Background(), *addr, msg, smtp.WithTimeout(*timeout))
	if err != nil {
		if errors.Is(err, smtp.ErrAllRecipientsRejected) {
			reportRejected(result)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	reportRejected(result)
	fmt.Printf("Message sent to %d recipient(s).\n", len(result.Accepted))
}

// reportRejected lists recipients the server refused; they are reported,
// never silently dropped.
func reportRejected(result *smtp.SendResult) {
	if result == nil {
		return
	}
	for _, rejected := range result.Rejected {
		fmt.Fprintf(os.Stderr, "recipient %s rejected: %s\n", rejected.Address, rejected.Reply)
	}
}

// setupLogger configures slog to stderr; the exchange is only shown
// with -v so prompts stay readable.
func setupLogger(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
