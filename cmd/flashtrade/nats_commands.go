package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/flashtrade/service/nats"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand streams committed trade audit events.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to trade audit events",
		ArgsUsage: "[borrower]",
		Description: `Subscribe to audit events published to NATS JetStream.

Events of every committed trade are published to flashloan.events.{borrower}.
Without a borrower argument all events are streamed. --must-jq filters may be
repeated; an event is shown only if every filter yields a truthy value.

Example:
  flashtrade nats subscribe --must-jq '.event_type == "FlashloanEvent"' --count 1`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "flashtrade-cli",
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq filter every shown event must satisfy (repeatable)",
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "Exit after this many matching events (0 streams forever)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up after this long (0 waits forever)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("at most one borrower address may be given")
			}

			var filters []*gojq.Code
			for _, expr := range c.StringSlice("must-jq") {
				code, err := compileJQ(expr)
				if err != nil {
					return err
				}
				filters = append(filters, code)
			}

			subject := natspkg.StreamSubjects
			if c.NArg() == 1 {
				subject = fmt.Sprintf("%s.%s", natspkg.SubjectPrefix, c.Args().First())
			}

			return streamEvents(c, subject, filters)
		},
	}
}

// streamEvents consumes subject until interrupted, the timeout passes, or
// --count matching events have been shown.
func streamEvents(c *cli.Context, subject string, filters []*gojq.Code) error {
	natsURL := c.String("nats-url")
	jsonOutput := c.Bool("json")
	w := c.App.Writer

	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if timeout := c.Duration("timeout"); timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if c.Bool("durable") {
		consumerConfig.Durable = c.String("consumer-name")
		consumerConfig.Name = c.String("consumer-name")
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if !jsonOutput {
		fmt.Fprintf(w, "📡 Subscribing to: %s\n", subject)
		fmt.Fprintf(w, "   NATS: %s\n", natsURL)
		fmt.Fprintf(w, "\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	msgChan := make(chan jetstream.Msg, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	limit := c.Int("count")
	shown := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.AuditEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				_ = msg.Ack()
				continue
			}
			_ = msg.Ack()

			ok, err := matchesAll(filters, &event)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}

			shown++
			if jsonOutput {
				data, _ := json.Marshal(event)
				fmt.Fprintln(w, string(data))
			} else {
				printAuditEvent(w, shown, &event)
			}
			if limit > 0 && shown >= limit {
				return nil
			}

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Fprintf(w, "\n✅ Received %d events\n", shown)
			}
			if limit > 0 && shown < limit {
				return fmt.Errorf("received %d of %d events before %v", shown, limit, ctx.Err())
			}
			return nil
		}
	}
}

func printAuditEvent(w io.Writer, n int, e *natspkg.AuditEvent) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Event #%d\n", n)
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Execution:    %s (tx %d)\n", e.ExecutionID, e.TxID)
	fmt.Fprintf(w, "Sequence:     %d\n", e.Sequence)
	fmt.Fprintf(w, "Type:         %s\n", e.EventType)
	fmt.Fprintf(w, "Borrower:     %s\n", e.Borrower)
	if e.Amount != nil {
		fmt.Fprintf(w, "Amount:       %d\n", *e.Amount)
	}
	if e.ActionType != "" {
		fmt.Fprintf(w, "Action:       %s\n", e.ActionType)
	}
	if _, err := e.Decode(); err != nil {
		fmt.Fprintf(w, "Payload:      undecodable (%v)\n", err)
	}
	fmt.Fprintf(w, "Published:    %s\n\n", e.PublishedAt.Format(time.RFC3339))
}

// inspectStreamCommand shows information about the audit event stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the audit event JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(context.Background(), natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, info)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(w, "First Seq:    %d\n", info.State.FirstSeq)
			fmt.Fprintf(w, "Last Seq:     %d\n", info.State.LastSeq)
			fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
			fmt.Fprintf(w, "Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}
