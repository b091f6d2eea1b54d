package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"replicator/internal/api"
	"replicator/internal/config"
)

func addClientCmds(root *cobra.Command) {
	var (
		addr    = envOr("REPLICATOR_ADDR", "localhost:8080")
		timeout = 30 * time.Second
	)
	root.PersistentFlags().StringVar(&addr, "addr", addr, "node HTTP address (env REPLICATOR_ADDR)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", timeout, "request timeout")

	client := func() (*api.Client, context.Context, context.CancelFunc) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		return api.NewClient(addr, nil), ctx, cancel
	}

	writeCmd := &cobra.Command{
		Use:   "write KEY VALUE",
		Short: "Write a key through the leader",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			c, ctx, cancel := client()
			defer cancel()
			res, err := c.Write(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("ok key=%s ts=%d acks=%d/%d\n", res.Key, res.Timestamp, res.Acks, res.Required)
			return nil
		},
	}

	getCmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Read a key from one node",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, ctx, cancel := client()
			defer cancel()
			v, err := c.Get(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		},
	}

	var versions bool
	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every key held by one node",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			c, ctx, cancel := client()
			defer cancel()
			if versions {
				m, err := c.DumpVersions(ctx)
				if err != nil {
					return err
				}
				return printSorted(m)
			}
			m, err := c.Dump(ctx)
			if err != nil {
				return err
			}
			return printSorted(m)
		},
	}
	dumpCmd.Flags().BoolVar(&versions, "versions", false, "print Unix millisecond timestamps instead of values")

	quorumCmd := &cobra.Command{
		Use:   "quorum [N]",
		Short: "Show or change the leader's write quorum",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, ctx, cancel := client()
			defer cancel()
			if len(args) == 1 {
				n, err := config.ParseWriteQuorum(args[0])
				if err != nil {
					return err
				}
				if err := c.SetWriteQuorum(ctx, n); err != nil {
					return err
				}
			}
			view, err := c.Config(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("writeQuorum=%d versioned=%t\n", view.WriteQuorum, view.Versioned)
			return nil
		},
	}

	root.AddCommand(writeCmd, getCmd, dumpCmd, quorumCmd)
}

func printSorted[V any](m map[string]V) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	enc := json.NewEncoder(os.Stdout)
	for _, k := range keys {
		if err := enc.Encode(map[string]V{k: m[k]}); err != nil {
			return err
		}
	}
	return nil
}
