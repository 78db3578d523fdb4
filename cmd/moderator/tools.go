package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/whisper/guardbot/internal/messaging"
	"github.com/whisper/guardbot/internal/moderation"
)

// checkWords reports how many usable terms a word list holds.
func checkWords(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open word list: %w", err)
	}
	defer f.Close()

	terms, skipped, err := moderation.ReadTerms(f)
	if err != nil {
		return fmt.Errorf("read word list: %w", err)
	}
	lex := moderation.NewLexicon(terms...)
	fmt.Fprintf(w, "%s: %d terms, %d skipped, %d total with built-in list\n", path, len(terms), skipped, lex.Len())
	return nil
}

// tailActions prints every action published on the feed until interrupted or
// d elapses.
func tailActions(ctx context.Context, w io.Writer, url string, d time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	cfg := messaging.DefaultNATSConfig()
	cfg.URL = url
	cfg.Name = "guardbot-tail"
	nc, err := messaging.NewNATSClient(cfg)
	if err != nil {
		return err
	}
	defer nc.Close()

	lines := make(chan string, 64)
	err = nc.SubscribeModerationActions(func(subject string, data []byte) {
		select {
		case lines <- subject + " " + string(data):
		default:
		}
	})
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case l := <-lines:
			fmt.Fprintln(w, l)
		}
	}
}
