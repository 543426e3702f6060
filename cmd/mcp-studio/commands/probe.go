package commands

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vikashloomba/mcp-studio-go/internal/config"
	"github.com/vikashloomba/mcp-studio-go/pkg/mcpmgr"
)

type probeResult struct {
	id      string
	name    string
	state   mcpmgr.ConnectionState
	tools   int
	prompts int
	detail  string
}

func NewProbeCmd() *cobra.Command {
	var (
		timeout     time.Duration
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "probe [id...]",
		Short: "Connect to stored servers and report what they expose",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if timeout > 0 {
				cfg.Manager.ConnectTimeout = timeout
			}
			m, _ := newManager(cmd.Context(), cfg, runtimeOptions{})
			defer m.Cleanup(context.Background())

			ids := args
			if len(ids) == 0 {
				ids = m.ListServers()
			}
			results := probe(cmd.Context(), m, ids, concurrency)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTOOLS\tPROMPTS\tDETAIL")
			failed := 0
			for _, r := range results {
				if r.state != mcpmgr.StateConnected {
					failed++
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", r.id, r.name, r.state, r.tools, r.prompts, r.detail)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d server(s) failed to connect", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Connect timeout per server (defaults to manager.connect_timeout)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Servers probed at once")
	return cmd
}

// probe connects each server and counts its tools and prompts. Results are
// returned in the order of ids.
func probe(ctx context.Context, m *mcpmgr.Manager, ids []string, concurrency int) []probeResult {
	var (
		mu      sync.Mutex
		results = make([]probeResult, 0, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for _, id := range ids {
		g.Go(func() error {
			r := probeOne(gctx, m, id)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(results, func(a, b probeResult) int {
		return slices.Index(ids, a.id) - slices.Index(ids, b.id)
	})
	return results
}

func probeOne(ctx context.Context, m *mcpmgr.Manager, id string) probeResult {
	r := probeResult{id: id, name: id, state: mcpmgr.StateError}
	summary, err := m.Server(id)
	if err != nil {
		r.detail = err.Error()
		return r
	}
	r.name = summary.Config.DisplayName()

	if err := m.Connect(ctx, id); err != nil {
		r.detail = err.Error()
		return r
	}
	r.state = mcpmgr.StateConnected
	summary, _ = m.Server(id)

	caps := summary.Capabilities
	if caps == nil || caps.Tools {
		if tools, err := m.ListTools(ctx, id, nil); err == nil {
			r.tools = len(tools.Tools)
		} else {
			r.detail = err.Error()
		}
	}
	if caps == nil || caps.Prompts {
		if prompts, err := m.ListPrompts(ctx, id, nil); err == nil {
			r.prompts = len(prompts.Prompts)
		} else if r.detail == "" {
			r.detail = err.Error()
		}
	}
	return r
}
