package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/brokered/svcbroker/activation"
	"github.com/brokered/svcbroker/broker"
	"github.com/brokered/svcbroker/discovery"
	"github.com/brokered/svcbroker/loadbalance"
	"github.com/brokered/svcbroker/registry"
	"github.com/brokered/svcbroker/remotebroker"
	"github.com/brokered/svcbroker/rpcruntime"
)

func callCmd() *cobra.Command {
	var (
		addr          string
		etcdEndpoints []string
		a, b          int
		timeout       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "call",
		Short: "drive one Arith.Add request against a running brokerctl serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := calcDescriptor()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			sb, closeBroker, err := resolveBroker(ctx, addr, etcdEndpoints)
			if err != nil {
				return err
			}
			defer closeBroker()

			pipe, err := sb.GetPipe(ctx, calcMoniker, activation.Options{})
			if err != nil {
				return fmt.Errorf("brokerctl: GetPipe: %w", err)
			}
			if pipe == nil {
				return fmt.Errorf("brokerctl: no Arith service currently available")
			}
			defer pipe.Close()

			client, err := rpcruntime.NewClient(d, pipe)
			if err != nil {
				return fmt.Errorf("brokerctl: build rpc client: %w", err)
			}
			defer client.Close()

			var reply AddReply
			if err := client.Call(ctx, "Arith.Add", &AddArgs{A: a, B: b}, &reply); err != nil {
				return fmt.Errorf("brokerctl: Arith.Add: %w", err)
			}

			fmt.Printf("%d + %d = %d\n", a, b, reply.Sum)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "dial this address directly instead of discovering through --etcd")
	cmd.Flags().StringSliceVar(&etcdEndpoints, "etcd", nil, "etcd endpoints to discover the service through (requires the service to have been served with --etcd)")
	cmd.Flags().IntVar(&a, "a", 2, "first addend")
	cmd.Flags().IntVar(&b, "b", 3, "second addend")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "overall call timeout")

	return cmd
}

// resolveBroker builds a broker.ServiceBroker either by dialing addr
// directly or by discovering an instance through etcdEndpoints, returning a
// cleanup func the caller must defer.
func resolveBroker(ctx context.Context, addr string, etcdEndpoints []string) (broker.ServiceBroker, func(), error) {
	if addr != "" {
		conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, nil, fmt.Errorf("brokerctl: dial %s: %w", addr, err)
		}
		client, err := remotebroker.ConnectToDuplex(ctx, conn, nil)
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("brokerctl: handshake with %s: %w", addr, err)
		}
		return client, func() { _ = client.Close() }, nil
	}

	if len(etcdEndpoints) == 0 {
		return nil, nil, fmt.Errorf("brokerctl: one of --addr or --etcd is required")
	}
	reg, err := registry.NewEtcdRegistry(etcdEndpoints)
	if err != nil {
		return nil, nil, fmt.Errorf("brokerctl: connect to etcd: %w", err)
	}
	client := discovery.New(reg, &loadbalance.RoundRobinBalancer{}, nil)
	return client, func() { _ = client.Close() }, nil
}
