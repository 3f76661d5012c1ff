package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brokered/svcbroker/registry"
	"github.com/brokered/svcbroker/relay/ipcrelay"
	"github.com/brokered/svcbroker/server"
)

func serveCmd() *cobra.Command {
	var (
		addr          string
		advertiseAddr string
		channelPrefix string
		etcdEndpoints []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "host the demo Arith service behind the IPC relay broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := calcDescriptor()
			if err != nil {
				return err
			}

			inner := newLocalArithBroker(d)
			relay := ipcrelay.New(inner, channelPrefix)

			svr, err := server.New(relay, calcMoniker)
			if err != nil {
				return err
			}

			var reg registry.Registry
			if len(etcdEndpoints) > 0 {
				reg, err = registry.NewEtcdRegistry(etcdEndpoints)
				if err != nil {
					return fmt.Errorf("brokerctl: connect to etcd: %w", err)
				}
			}

			if advertiseAddr == "" {
				advertiseAddr = addr
			}

			logrus.WithFields(logrus.Fields{
				"moniker": calcMoniker.String(),
				"addr":    addr,
			}).Info("brokerctl: serving demo Arith service")

			return svr.Serve("tcp", addr, advertiseAddr, reg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9090", "address to listen on")
	cmd.Flags().StringVar(&advertiseAddr, "advertise-addr", "", "address to advertise in the registry (defaults to --addr)")
	cmd.Flags().StringVar(&channelPrefix, "channel-prefix", "brokerctl-demo", "IPC relay single-shot channel name prefix")
	cmd.Flags().StringSliceVar(&etcdEndpoints, "etcd", nil, "etcd endpoints to register under (omit to skip registry registration)")

	return cmd
}
