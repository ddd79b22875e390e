package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pushrelay/internal/app"
	"pushrelay/internal/relay"
	"pushrelay/internal/storage"
	"pushrelay/internal/vapid"
	logx "pushrelay/pkg/logx"
)

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay: HTTP API, broadcast queue, config watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(ctx, g.cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}

			reason := app.StopSIGTERM
			select {
			case <-ctx.Done():
			case <-a.Done():
				reason = app.StopFatalError
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer stopCancel()
			_ = a.Stop(stopCtx, reason)
			if reason == app.StopFatalError {
				return a.Err()
			}
			return nil
		},
	}
}

func newKeygenCmd() *cobra.Command {
	var asPEM bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a VAPID key pair and print it as env lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := vapid.Generate()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asPEM {
				pem, err := k.PEM()
				if err != nil {
					return err
				}
				fmt.Fprint(out, pem)
				fmt.Fprintf(out, "%s=%s\n", "VAPID_PUBLIC_KEY", k.PublicKeyBase64())
				return nil
			}
			priv, err := k.PrivateKeyBase64()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "VAPID_PRIVATE_KEY=%s\nVAPID_PUBLIC_KEY=%s\n", priv, k.PublicKeyBase64())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asPEM, "pem", false, "print the private key as a PKCS#8 PEM block")
	return cmd
}

func newBroadcastCmd(g *globals) *cobra.Command {
	var sender, text string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Send one broadcast to every stored subscription and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx, tcancel := context.WithTimeout(ctx, timeout)
			defer tcancel()

			a, err := openOneShot(ctx, cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.Relay().Broadcast(ctx, relay.Message{Sender: sender, Text: text})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "", "notification title (sender name)")
	cmd.Flags().StringVar(&text, "text", "", "notification body")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline")
	return cmd
}

func newSubsCmd(g *globals) *cobra.Command {
	subs := &cobra.Command{
		Use:   "subs",
		Short: "Inspect stored subscriptions",
	}
	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openOneShot(ctx, cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()
			return listSubs(ctx, a.Store(), cmd, asJSON)
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print records as JSON lines")

	var key, endpoint string
	remove := &cobra.Command{
		Use:   "rm",
		Short: "Remove a subscription by key or endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" && endpoint == "" {
				return errors.New("provide --key or --endpoint")
			}
			if key == "" {
				key = storage.KeyFor(endpoint)
			}
			a, err := openOneShot(cmd.Context(), cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Store().Delete(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed", key)
			return nil
		},
	}
	remove.Flags().StringVar(&key, "key", "", "subscription key (sub:...)")
	remove.Flags().StringVar(&endpoint, "endpoint", "", "push endpoint URL")

	subs.AddCommand(list, remove)
	return subs
}

// openOneShot builds the app for a command that prints to stdout; logs go to stderr.
func openOneShot(ctx context.Context, cmd *cobra.Command, g *globals) (*app.App, error) {
	logx.SetStdout(cmd.ErrOrStderr())
	return app.New(ctx, g.cfgPath)
}

func listSubs(ctx context.Context, st storage.Store, cmd *cobra.Command, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		return storage.Walk(ctx, st, 0, func(page []storage.Record) error {
			for _, rec := range page {
				if err := enc.Encode(struct {
					Key string `json:"key"`
					storage.Record
				}{rec.Key, rec}); err != nil {
					return err
				}
			}
			return nil
		})
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tUSER\tCREATED\tENDPOINT")
	total := 0
	err := storage.Walk(ctx, st, 0, func(page []storage.Record) error {
		for _, rec := range page {
			total++
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.Key, rec.User, rec.CreatedAt.Format(time.RFC3339), rec.Subscription.Endpoint)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d subscription(s)\n", total)
	return nil
}
