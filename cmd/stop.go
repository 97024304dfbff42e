package cmd

import (
	"log/slog"
	"os"

	"github.com/smazurov/posenode/internal/logging"
	"github.com/smazurov/posenode/internal/nats"
	"github.com/spf13/cobra"
)

// CreateStopCmd creates the stop command.
func CreateStopCmd() *cobra.Command {
	var (
		url    string
		node   string
		reason string
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask a running posenode to shut down",
		Long: `Publishes a stop request on the NATS control subject. The addressed node ` +
			`drains its queue, writes the last pending record and exits. Without --node ` +
			`every node listening on the server stops.`,
		Args: cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			logger := logging.GetLogger("nats")
			if err := RunStop(url, node, reason, logger); err != nil {
				logger.Error("Stop request failed", "url", url, "error", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVar(&url, "nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	cmd.Flags().StringVar(&node, "node", "", "Node to stop (empty stops all)")
	cmd.Flags().StringVar(&reason, "reason", "requested from CLI", "Reason recorded by the node")

	return cmd
}

// RunStop publishes one stop request and waits for the server to accept it.
func RunStop(url, node, reason string, logger *slog.Logger) error {
	pub, err := nats.NewControlPublisher(url, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	return pub.Stop(node, reason)
}
