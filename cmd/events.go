/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/observach/apiserver/config"
	"github.com/observach/apiserver/internal/mq"
	"github.com/observach/apiserver/internal/services"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect submission events",
}

// eventsWatchCmd tails the submission channel, e.g. for a moderator
// notification bot.
var eventsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Log submission events as they arrive",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		broker, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if broker == nil {
			return errors.New("MQ_BACKEND is none, nothing to watch")
		}
		defer broker.Close()

		ctx = mq.WithSubscribed(ctx, func() {
			slog.Info("watching submission events", "backend", cfg.MQ.Backend, "channel", cfg.MQ.Channel)
		})
		err = broker.Subscribe(ctx, cfg.MQ.Channel, logSubmissionEvent)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsWatchCmd)
}

func logSubmissionEvent(ctx context.Context, msg mq.Message) error {
	var event services.SubmissionEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		slog.WarnContext(ctx, "undecodable event", "message_id", msg.ID, "error", err)
		return fmt.Errorf("decode event %s: %w", msg.ID, err)
	}
	slog.InfoContext(ctx, "submission",
		"type", event.Type,
		"observation_id", event.ObservationID,
		"comment_id", event.CommentID,
		"user_id", event.AuthorID,
		"created_at", event.CreatedAt,
	)
	return nil
}
