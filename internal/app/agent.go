package app

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zjregee/deepthread/internal/models"
	"github.com/zjregee/deepthread/internal/service"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	var (
		noStream    bool
		showResults bool
	)

	cmd := &cobra.Command{
		Use:   "chat <thread> <message>",
		Short: "Send a message to a thread and stream the reply",
		Long: `Sends a message to the coordinating agent on the given thread. The thread
is created if it does not exist yet.

Press Ctrl-C to stop the turn. The step in flight finishes and whatever the
turn produced so far is kept in the thread.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			threadID := args[0]
			message := strings.Join(args[1:], " ")

			return opts.withApp(cmd, true, func(a *App) error {
				if noStream {
					return a.chatOnce(cmd, threadID, message)
				}
				return a.chatStream(cmd, threadID, message, showResults)
			})
		},
	}
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the whole answer instead of streaming")
	cmd.Flags().BoolVar(&showResults, "show-results", false, "print tool results while streaming")
	return cmd
}

func (a *App) chatOnce(cmd *cobra.Command, threadID, message string) error {
	result, err := a.agentService.SendMessage(cmd.Context(), threadID, message)
	if result != nil && result.Answer != "" {
		fmt.Fprintln(cmd.OutOrStdout(), formatThreadMessage(result.Answer))
	}
	return err
}

// chatStream renders the turn's events while watching for an interrupt. An
// interrupt cancels the turn's context; the renderer keeps draining until the
// service closes the stream.
func (a *App) chatStream(cmd *cobra.Command, threadID, message string, showResults bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, err := a.agentService.StreamMessage(ctx, threadID, message)
	if err != nil {
		return err
	}

	renderer := &eventRenderer{w: cmd.OutOrStdout(), showResults: showResults}
	done := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		defer close(done)
		var turnErr error
		for e := range events {
			renderer.render(e)
			if ev, ok := e.(models.ErrorEvent); ok {
				turnErr = errors.New(ev.Error)
			}
		}
		return turnErr
	})
	g.Go(func() error {
		select {
		case <-done:
		case <-ctx.Done():
			fmt.Fprintln(cmd.ErrOrStderr(), "\nInterrupted, finishing the current step...")
		}
		return nil
	})

	err = g.Wait()
	if ctx.Err() != nil && cmd.Context().Err() == nil {
		return fmt.Errorf("%w: interrupted", models.ErrTurnCancelled)
	}
	return err
}

func newAgentsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect the sub-agents the coordinator can delegate to",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sub-agent profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, false, func(a *App) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tMAX ITERATIONS\tTOOLS\tDESCRIPTION")
				for _, p := range a.agentService.ListAgents() {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", p.Name, p.MaxIterations, strings.Join(p.Tools, ","), p.Description)
				}
				return tw.Flush()
			})
		},
	})
	return cmd
}

func newModelsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Show known inference providers and models",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List known models; any model id the provider accepts can be configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			current := ""
			if opts.cfg != nil {
				current = opts.cfg.Model.Provider + "/" + opts.cfg.Model.Model
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tMODEL\tCONTEXT\t")
			for _, m := range service.ListModels() {
				marker := ""
				if m.Provider+"/"+m.ID == current {
					marker = "(configured)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Provider, m.ID, m.ContextWindow, marker)
			}
			return tw.Flush()
		},
	})
	return cmd
}
