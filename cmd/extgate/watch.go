package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/alfredjeanlab/extgate/internal/client"
	"github.com/alfredjeanlab/extgate/internal/events"
	"github.com/alfredjeanlab/extgate/internal/ui"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream gate and review audit events",
	Long: `Stream gate and review audit events. Events come from NATS when
--nats-url (or EXTGATE_NATS_URL) is set, otherwise from the gateway's
server-sent event stream.`,
	GroupID: "review",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats-url")
		topics, _ := cmd.Flags().GetStringSlice("topic")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if natsURL != "" {
			return watchNATS(ctx, natsURL, topics)
		}
		return watchSSE(ctx, topics)
	},
}

// watchNATS subscribes to each topic separately so that every event keeps
// its subject.
func watchNATS(ctx context.Context, natsURL string, topics []string) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats: reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	if len(topics) == 0 {
		topics = events.Topics
	}

	out := make(chan client.Event, 64)
	for _, topic := range topics {
		ch, cancel, err := sub.Subscribe(topic)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		defer cancel()

		go func(topic string, ch <-chan []byte) {
			for data := range ch {
				select {
				case out <- client.Event{Topic: topic, Data: data}:
				case <-ctx.Done():
					return
				}
			}
		}(topic, ch)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-out:
			printEvent(evt, time.Now())
		}
	}
}

func watchSSE(ctx context.Context, topics []string) error {
	err := adminClient.StreamEvents(ctx, topics, func(evt client.Event) error {
		printEvent(evt, time.Now())
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func printEvent(evt client.Event, at time.Time) {
	if jsonOutput {
		fmt.Println(mustCompactJSON(map[string]any{
			"topic": evt.Topic,
			"data":  evt.Data,
		}))
		return
	}
	fmt.Println(formatEvent(evt, at))
}

// formatEvent renders one audit event as a single line.
func formatEvent(evt client.Event, at time.Time) string {
	var m events.Mutation
	if err := json.Unmarshal(evt.Data, &m); err != nil {
		return fmt.Sprintf("%s  %s  %s", at.Format("15:04:05"), evt.Topic, evt.Data)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-20s", at.Format("15:04:05"), strings.TrimPrefix(evt.Topic, "extgate."))
	if m.ReviewID != "" {
		fmt.Fprintf(&b, "  %s", ui.RenderAccent(m.ReviewID))
	}
	if m.Service != "" {
		fmt.Fprintf(&b, "  %s %s %s", m.Service, m.Method, m.UpstreamPath)
	}
	if m.UpstreamStatus != 0 {
		fmt.Fprintf(&b, "  -> %s", ui.RenderHTTPStatus(m.UpstreamStatus))
	}
	if m.Error != "" {
		fmt.Fprintf(&b, "  %s", ui.RenderMuted(m.Error))
	}
	return b.String()
}

func init() {
	watchCmd.Flags().String("nats-url", os.Getenv("EXTGATE_NATS_URL"), "read events from NATS instead of the gateway")
	watchCmd.Flags().StringSlice("topic", nil, "topic patterns to follow (default all)")
}
