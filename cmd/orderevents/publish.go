package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/darkevergard3n/grafana-lab-webapp/internal/broker"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/config"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/events"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/logger"
)

func newPublishCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "publish <event> <order-id>",
		Short: "Publish a single order event",
		Long: `Publish one order event to the broker and wait for it to be handed over.
<event> is a routing key such as order.created or order.status.shipped, or a
shorthand: created, updated, cancelled, or any order status (shipped, ...).`,
		Example: `  orderevents publish created 4f0c2b
  orderevents publish order.status.delivered 4f0c2b`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.New(logger.Config{Level: cfg.LogLevel, Service: "orderevents-cli", Console: console})

			e := events.New(parseEventType(args[0]), args[1])
			payload, err := events.Encode(e)
			if err != nil {
				return err
			}

			client, err := broker.NewClient(cfg, logger.Component(log, "broker"))
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("connect to broker: %w", err)
			}
			if err := client.Publish(ctx, e.Type.RoutingKey(), payload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s for order %s\n", e.Type, e.OrderID)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Time allowed to connect and publish")
	return cmd
}

// parseEventType expands shorthands into routing keys.
func parseEventType(s string) events.EventType {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.Contains(s, ".") {
		return events.EventType(s)
	}
	switch s {
	case "created":
		return events.OrderCreated
	case "updated":
		return events.OrderUpdated
	case "cancelled", "canceled":
		return events.OrderCancelled
	default:
		return events.StatusEvent(s)
	}
}
