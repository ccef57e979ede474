package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/matheus3301/echovault/internal/api"
	"github.com/matheus3301/echovault/internal/lock"
	"github.com/matheus3301/echovault/internal/paths"
	"github.com/matheus3301/echovault/internal/reminder"
	"github.com/matheus3301/echovault/internal/service"
	"github.com/matheus3301/echovault/internal/vault"
	"github.com/matheus3301/echovault/internal/wa"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

func statusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.unary(func(ctx context.Context, c *api.Client) error {
				st, err := c.GetStatus(ctx)
				if err != nil {
					return err
				}
				if g.jsonOut {
					outputJSON(st)
					return nil
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Uptime:      %s\n", st.Uptime)
				if h, err := lock.ReadHolder(paths.Resolve(g.home)); err == nil && h.PID != 0 {
					fmt.Fprintf(out, "PID:         %d (since %s)\n", h.PID, formatTime(&h.Started))
				}
				fmt.Fprintf(out, "WhatsApp:    %s %s\n", st.WhatsApp.State, st.WhatsApp.Phone)
				fmt.Fprintf(out, "Attachments: %s\n", st.Attachments)
				if n := st.Counts; n != nil {
					fmt.Fprintf(out, "Messages:    %d (%d recipients)\n", n.Messages, n.Recipients)
					fmt.Fprintf(out, "Armed:       %d (%d panic pending)\n", n.ArmedConditions, n.PendingPanics)
					fmt.Fprintf(out, "Deliveries:  %d\n", n.Deliveries)
					fmt.Fprintf(out, "Outbox:      %d queued, %d failed\n", n.QueuedNotifications, n.FailedNotifications)
				}
				names := make([]string, 0, len(st.Workers))
				for name := range st.Workers {
					names = append(names, name)
				}
				slices.Sort(names)
				for _, name := range names {
					last := st.Workers[name]
					fmt.Fprintf(out, "Worker %-9s last run %s\n", name+":", formatTime(&last))
				}
				return nil
			})
		},
	}
}

func checkInCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "check-in <user-id>",
		Short: "Record a check-in for a user, resetting their timers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.unary(func(ctx context.Context, c *api.Client) error {
				res, err := c.CheckIn(ctx, args[0])
				if err != nil {
					return err
				}
				if g.jsonOut {
					outputJSON(res)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Checked in. %d condition(s) reset, next deadline %s\n",
					res.Conditions, formatTime(res.NextDeadline))
				return nil
			})
		},
	}
}

func panicCmd(g *globals) *cobra.Command {
	var cancel bool
	cmd := &cobra.Command{
		Use:   "panic <condition-id>",
		Short: "Start (or with --cancel, stop) a panic countdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.unary(func(ctx context.Context, c *api.Client) error {
				var (
					cond *vault.MessageCondition
					err  error
				)
				if cancel {
					cond, err = c.CancelPanic(ctx, args[0])
				} else {
					cond, err = c.TriggerPanic(ctx, args[0])
				}
				if err != nil {
					return err
				}
				if g.jsonOut {
					outputJSON(cond)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Condition %s is now %s", cond.ID, cond.State)
				if cond.PanicPendingUntil != nil {
					fmt.Fprintf(cmd.OutOrStdout(), ", releases at %s", formatTime(cond.PanicPendingUntil))
				}
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&cancel, "cancel", false, "cancel a pending countdown")
	return cmd
}

func conditionsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "conditions <user-id>",
		Short: "List a user's release conditions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.unary(func(ctx context.Context, c *api.Client) error {
				conds, err := c.ListConditions(ctx, args[0])
				if err != nil {
					return err
				}
				if g.jsonOut {
					outputJSON(conds)
					return nil
				}
				if len(conds) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No conditions.")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tMESSAGE\tTYPE\tSTATE\tACTIVE\tLAST CHECK-IN")
				for _, cond := range conds {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\n", cond.ID, cond.MessageID, cond.ConditionType,
						cond.State, cond.Active, formatTime(&cond.LastChecked))
				}
				return w.Flush()
			})
		},
	}
}

func evaluateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Run one trigger evaluation pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.unary(func(ctx context.Context, c *api.Client) error {
				rep, err := c.RunEvaluation(ctx)
				if err != nil {
					return err
				}
				if g.jsonOut {
					outputJSON(rep)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Evaluated %d, triggered %d, delivered %d, queued %d\n",
					rep.Evaluated, rep.Triggered, rep.Delivered, rep.Queued)
				return nil
			})
		},
	}
}

func remindersCmd(g *globals) *cobra.Command {
	var req reminder.Request
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Run the reminder scheduler now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.unary(func(ctx context.Context, c *api.Client) error {
				res, err := c.SendReminders(ctx, req)
				if err != nil {
					return err
				}
				if g.jsonOut {
					outputJSON(res)
					return nil
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Checked %d, sent %d\n", res.Checked, res.Sent)
				for _, d := range res.Decisions {
					fmt.Fprintf(out, "  %s deadline %s send=%v %s\n", d.ConditionID, formatTime(&d.Deadline), d.Send, d.Reason)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.MessageID, "message", "", "only consider this message's conditions")
	cmd.Flags().BoolVar(&req.Debug, "debug", false, "report decisions without sending")
	cmd.Flags().BoolVar(&req.ForceSend, "force", false, "send a reminder for every matching condition")
	return cmd
}

func testEmailCmd(g *globals) *cobra.Command {
	var req service.TestEmailRequest
	cmd := &cobra.Command{
		Use:   "test-email",
		Short: "Send a test delivery email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.Email == "" && req.MessageID == "" {
				return errors.New("either --to or --message is required")
			}
			return g.unary(func(ctx context.Context, c *api.Client) error {
				res, err := c.SendTestEmail(ctx, req)
				if err != nil {
					return err
				}
				if g.jsonOut {
					outputJSON(res)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sent %d of %d (%d failed)\n", res.Sent, res.Total, res.Failed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Email, "to", "", "address to send to")
	cmd.Flags().StringVar(&req.MessageID, "message", "", "send to this message's recipients")
	cmd.Flags().StringSliceVar(&req.RecipientIDs, "recipient", nil, "recipient ids to send to")
	return cmd
}

// interruptContext is cancelled on Ctrl-C.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func watchCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [kind-prefix]",
		Short: "Stream daemon events until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			c, err := g.connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, cancel := interruptContext()
			defer cancel()
			stream, err := c.WatchEvents(ctx, prefix)
			if err != nil {
				return err
			}
			for {
				env, err := stream.Recv()
				if err != nil {
					if errors.Is(err, io.EOF) || ctx.Err() != nil {
						return nil
					}
					return err
				}
				if g.jsonOut {
					outputJSON(env)
					continue
				}
				at := time.UnixMilli(env.OccurredAtUnixMs)
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-24s %v\n", at.Local().Format(time.TimeOnly), env.Kind, env.Payload)
			}
		},
	}
}

func whatsAppCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whatsapp",
		Short: "Manage the direct WhatsApp channel",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "link",
		Short: "Link a WhatsApp device by scanning a QR code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, cancel := interruptContext()
			defer cancel()
			stream, err := c.LinkWhatsApp(ctx)
			if err != nil {
				return err
			}
			for {
				evt, err := stream.Recv()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				if done, err := printAuthEvent(cmd.OutOrStdout(), evt, g.jsonOut); done || err != nil {
					return err
				}
			}
		},
	})
	return cmd
}

// printAuthEvent renders one link event and reports whether linking ended.
func printAuthEvent(out io.Writer, evt *wa.AuthEvent, jsonOut bool) (bool, error) {
	if jsonOut {
		outputJSON(evt)
	}
	switch evt.Type {
	case wa.AuthEventQRCode:
		if jsonOut {
			return false, nil
		}
		qr, err := qrcode.New(evt.QRCode, qrcode.Low)
		if err != nil {
			return false, fmt.Errorf("render QR code: %w", err)
		}
		fmt.Fprintln(out, qr.ToSmallString(false))
		fmt.Fprintln(out, "Scan with WhatsApp > Linked devices > Link a device")
		return false, nil
	case wa.AuthEventAuthenticated:
		if !jsonOut {
			fmt.Fprintln(out, "Device linked.")
		}
		return true, nil
	default:
		return true, fmt.Errorf("link %s: %s", evt.Type, evt.Message)
	}
}
