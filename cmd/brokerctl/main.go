// Command brokerctl is a thin CLI wrapper around the broker graph, grounded
// on orbas1-Synnergy's cmd/synnergy cobra-root-plus-subcommand shape. It
// contains no broker logic of its own: serve.go and call.go only wire
// together relay/ipcrelay, server, discovery, and rpcruntime.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{Use: "brokerctl"}
	root.AddCommand(serveCmd())
	root.AddCommand(callCmd())

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("brokerctl failed")
		os.Exit(1)
	}
}
