// cmd/proxyctl is the operator CLI for inspecting a running proxyd: node
// error-limiter state, ring devices, and counters (SPEC_FULL.md §2's
// "CLI (proxyctl): Operator tool"). It never serves traffic itself.
//
// Usage:
//
//	proxyctl nodes                  --server http://localhost:8080
//	proxyctl nodes reset <node-id>  --server http://localhost:8080
//	proxyctl ring devices           --server http://localhost:8080
//	proxyctl metrics                --server http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"object-proxy/internal/ctlclient"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "proxyctl",
		Short: "Operator CLI for the object-storage proxy's debug surface",
	}
	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "proxyd address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"request timeout")

	root.AddCommand(nodesCmd(), ringCmd(), metricsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func nodesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List per-node error-limiter state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := ctlclient.New(serverAddr, timeout)
			nodes, err := c.Nodes(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(nodes)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <node-id>",
		Short: "Clear a node's error counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := ctlclient.New(serverAddr, timeout)
			if err := c.ResetNode(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("node %q reset\n", args[0])
			return nil
		},
	})

	return cmd
}

func ringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ring",
		Short: "Ring introspection commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "devices",
		Short: "List every device the loaded ring knows about",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := ctlclient.New(serverAddr, timeout)
			devs, err := c.Devices(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(devs)
			return nil
		},
	})
	return cmd
}

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show handoff/quorum/error-limit counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := ctlclient.New(serverAddr, timeout)
			snap, err := c.Metrics(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(snap)
			return nil
		},
	}
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
