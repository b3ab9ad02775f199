package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjregee/deepthread/internal/models"
)

func newThreadsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "threads",
		Aliases: []string{"thread"},
		Short:   "Create, list, rename, show and delete threads",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "create [title]",
			Short: "Create a new thread",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withApp(cmd, false, func(a *App) error {
					title := strings.Join(args, " ")
					info, err := a.agentService.CreateThread(cmd.Context(), title)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), info.ID)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List threads, most recently updated first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withApp(cmd, false, func(a *App) error {
					threads, err := a.agentService.ListThreads()
					if err != nil {
						return err
					}
					if len(threads) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "No threads yet. Start one with `deepthread chat <thread> <message>`.")
						return nil
					}
					return renderThreadList(cmd.OutOrStdout(), threads)
				})
			},
		},
		&cobra.Command{
			Use:   "rename <thread> <title>",
			Short: "Rename a thread",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withApp(cmd, false, func(a *App) error {
					info, err := a.agentService.RenameThread(args[0], strings.Join(args[1:], " "))
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", info.ID, formatThreadTitle(info.Title))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <thread>",
			Short: "Delete a thread with its messages, plan, notes and context",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withApp(cmd, false, func(a *App) error {
					if err := a.agentService.DeleteThread(args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
					return nil
				})
			},
		},
		newThreadShowCmd(opts),
	)
	return cmd
}

func newThreadShowCmd(opts *rootOptions) *cobra.Command {
	var showTools bool

	cmd := &cobra.Command{
		Use:   "show <thread>",
		Short: "Print a thread's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, false, func(a *App) error {
				thread, err := a.agentService.GetThread(args[0])
				if err != nil {
					return err
				}
				renderThread(cmd.OutOrStdout(), thread, showTools)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showTools, "tools", false, "include tool call records")
	return cmd
}

func usageSummary(u *models.AgentUsage) string {
	if u == nil || u.TotalTokens == 0 {
		return "-"
	}
	return fmt.Sprintf("%d tokens", u.TotalTokens)
}
