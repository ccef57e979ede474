package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/echovault/internal/api"
	"github.com/matheus3301/echovault/internal/paths"
	"github.com/spf13/cobra"
)

type globals struct {
	home    string
	jsonOut bool
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "echovaultctl",
		Short:         "Control a running echovaultd over its local socket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.home, "home", "", "data directory (default $ECHOVAULT_HOME or ~/.echovault)")
	root.PersistentFlags().BoolVar(&g.jsonOut, "json", false, "output in JSON format")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Second, "timeout for unary calls")

	root.AddCommand(
		statusCmd(g),
		checkInCmd(g),
		panicCmd(g),
		conditionsCmd(g),
		evaluateCmd(g),
		remindersCmd(g),
		testEmailCmd(g),
		watchCmd(g),
		whatsAppCmd(g),
	)
	return root
}

// connect dials the daemon for the resolved home.
func (g *globals) connect() (*api.Client, error) {
	home := paths.Resolve(g.home)
	c, err := api.Dial(paths.SocketPath(home))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon in %s: %w", home, err)
	}
	return c, nil
}

// unary runs fn with a connected client and the unary timeout.
func (g *globals) unary(fn func(ctx context.Context, c *api.Client) error) error {
	c, err := g.connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	return fn(ctx, c)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
