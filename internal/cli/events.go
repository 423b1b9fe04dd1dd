package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/slurmdag/internal/domain"
	"github.com/shaiso/slurmdag/internal/mq"
	"github.com/shaiso/slurmdag/internal/telemetry"
)

func newEventsCmd(g *globals) *cobra.Command {
	var rabbitURL string
	var runID string
	var keys []string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow node and run events published by running controllers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFor(cmd, g.jsonOutput)
			logger := telemetry.NewLogger(cmd.ErrOrStderr())

			routing := make([]mq.RoutingKey, len(keys))
			for i, k := range keys {
				routing[i] = mq.RoutingKey(k)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			conn, err := mq.NewConnection(rabbitURL, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := mq.SetupTopology(ctx, conn); err != nil {
				return err
			}

			consumer := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
				Keys: routing,
				Handler: func(_ context.Context, msg *mq.Message) error {
					return printEvent(out, msg, runID)
				},
			})

			out.Success("Waiting for events, press Ctrl+C to stop")
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rabbitURL, "rabbitmq-url", envOr("RABBITMQ_URL", mq.DefaultURL()), "RabbitMQ URL (default: $RABBITMQ_URL)")
	cmd.Flags().StringVar(&runID, "run", "", "Show only events of this run ID")
	cmd.Flags().StringSliceVar(&keys, "key", []string{string(mq.RoutingKeyAll)}, "Routing keys to subscribe to")

	return cmd
}

// printEvent выводит событие строкой или JSON. Неизвестные типы пропускаются.
func printEvent(out *Output, msg *mq.Message, runID string) error {
	var id, line string

	switch msg.Type {
	case mq.MessageTypeRunStarted:
		info, err := mq.ParsePayload[domain.RunInfo](msg)
		if err != nil {
			return nil
		}
		id = info.ID.String()
		line = fmt.Sprintf("run %s started: %s (%d nodes)", info.Tag, info.DagFile, info.TotalNodes)
	case mq.MessageTypeNodeChanged:
		ev, err := mq.ParsePayload[domain.NodeEvent](msg)
		if err != nil {
			return nil
		}
		id = ev.RunID.String()
		line = fmt.Sprintf("node %s: %s -> %s", ev.Node, ev.From, ev.To)
		if ev.JobID != "" {
			line += " job " + ev.JobID
		}
		if ev.Attempt >= 0 {
			line += fmt.Sprintf(" attempt %d", ev.Attempt)
		}
	case mq.MessageTypeRunFinished:
		p, err := mq.ParsePayload[mq.RunFinishedPayload](msg)
		if err != nil {
			return nil
		}
		id = p.Run.ID.String()
		line = fmt.Sprintf("run %s finished: %s, done %d/%d, failed %d",
			p.Run.Tag, p.Summary.Outcome, p.Summary.Counts.Done, p.Summary.Counts.Total, p.Summary.Counts.Failed)
		if p.Summary.RescueFile != "" {
			line += ", rescue " + p.Summary.RescueFile
		}
	default:
		return nil
	}

	if runID != "" && id != runID {
		return nil
	}
	if out.JSONMode() {
		out.JSON(msg)
		return nil
	}
	out.Line("%s  %s", msg.Timestamp.Local().Format(time.DateTime), line)
	return nil
}
