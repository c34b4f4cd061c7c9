package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/pulse-core/internal/auth"
	"github.com/nerrad567/pulse-core/internal/scheduler"
)

// withClient resolves configuration and hands a ready client to fn.
func withClient(fn func(ctx context.Context, c *client, out io.Writer) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Token == "" {
			return errors.New("no token configured: pass --token or set PULSECTL_TOKEN")
		}
		return fn(cmd.Context(), newClient(cfg), cmd.OutOrStdout())
	}
}

// newCommandCmd builds the vibrate and pulse subcommands.
func newCommandCmd(kind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   kind + " <intensity> <seconds>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			intensity, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("intensity must be an integer: %q", args[0])
			}
			seconds, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("seconds must be an integer: %q", args[1])
			}
			return withClient(func(ctx context.Context, c *client, out io.Writer) error {
				res, err := c.submit(ctx, scheduler.Kind(kind), intensity, seconds)
				if err != nil {
					return describeSubmitError(err)
				}
				switch res.Status {
				case scheduler.StatusRunningNow:
					fmt.Fprintf(out, "Running now (%s). %d commands left in this window.\n", res.EntryID, res.Remaining)
				default:
					fmt.Fprintf(out, "Queued at position %d (%s). %d commands left in this window.\n",
						res.Position, res.EntryID, res.Remaining)
				}
				return nil
			})(cmd, args)
		},
	}
}

// describeSubmitError turns admission rejections into short user messages.
func describeSubmitError(err error) error {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case "rate_limited":
		if apiErr.RetryAfter > 0 {
			return fmt.Errorf("rate limited: try again in %ds", apiErr.RetryAfter)
		}
		return errors.New("rate limited")
	case "locked":
		return errors.New("commands are locked by an operator")
	case "no_devices":
		return errors.New("no devices connected")
	}
	return err
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active command, queue and your remaining quota",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *client, out io.Writer) error {
			st, err := c.status(ctx)
			if err != nil {
				return err
			}
			printStatus(out, st)
			return nil
		}),
	}
}

func printStatus(out io.Writer, st *statusResponse) {
	if st.Active && st.ActiveEntry != nil {
		fmt.Fprintf(out, "Active:    %s %d%% for %ds (%s)\n",
			st.ActiveKind, st.ActiveEntry.Intensity, st.ActiveEntry.DurationSeconds, st.ActiveEntry.RequesterLabel)
	} else {
		fmt.Fprintln(out, "Active:    idle")
	}
	fmt.Fprintf(out, "Queue:     %d\n", st.QueueLength)
	for i, e := range st.Queue {
		fmt.Fprintf(out, "  %d. %s %d%% for %ds (%s)\n", i+1, e.Kind, e.Intensity, e.DurationSeconds, e.RequesterLabel)
	}
	fmt.Fprintf(out, "Remaining: %d/%d (resets in %ds)\n", st.Remaining, st.Limit, st.ResetInSeconds)
	if st.Locked {
		fmt.Fprintf(out, "Locked:    yes (by %s)\n", st.LockedBy)
	} else {
		fmt.Fprintln(out, "Locked:    no")
	}
	fmt.Fprintf(out, "Devices:   %s\n", yesNo(st.Connected, "reachable", "unreachable"))
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List connected devices",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *client, out io.Writer) error {
			res, err := c.devices(ctx)
			if err != nil {
				return err
			}
			if len(res.Devices) == 0 {
				fmt.Fprintln(out, "No devices connected.")
				return nil
			}
			for _, d := range res.Devices {
				fmt.Fprintf(out, "%-24s %-24s vibrate=%d\n", d.ID, d.Name, d.Capabilities.Vibrate)
			}
			fmt.Fprintf(out, "%d devices, %d vibrate-capable\n", res.Summary.Total, res.Summary.Vibrate)
			return nil
		}),
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop every device and clear the queue (operator)",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *client, out io.Writer) error {
			n, err := c.stopAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Stopped %d devices.\n", n)
			return nil
		}),
	}
}

func newLockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Block new commands (operator)",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *client, out io.Writer) error {
			st, err := c.lock(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Locked by %s.\n", st.LockedBy)
			return nil
		}),
	}
}

func newUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Allow new commands again (operator)",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *client, out io.Writer) error {
			if _, err := c.unlock(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "Unlocked.")
			return nil
		}),
	}
}

// newTokenCmd mints an access token locally with the server's shared secret.
func newTokenCmd() *cobra.Command {
	var (
		id   string
		name string
		role string
		ttl  int
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token with the shared signing secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Secret == "" {
				return errors.New("no secret configured: pass --secret or set PULSECTL_SECRET")
			}
			identity := auth.Identity{
				ID:    id,
				Label: name,
				Role:  auth.Role(strings.ToLower(role)),
			}
			token, err := auth.GenerateAccessToken(identity, cfg.Secret, ttl)
			if err != nil {
				return fmt.Errorf("minting token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Identity ID (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleUser), "Role: user or operator")
	cmd.Flags().IntVar(&ttl, "ttl", 60, "Token lifetime in minutes")
	cmd.Flags().String("secret", "", "Shared JWT signing secret")
	//nolint:errcheck // Flag is defined above
	cmd.MarkFlagRequired("id")
	return cmd
}

func yesNo(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}
