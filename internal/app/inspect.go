package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/zjregee/deepthread/internal/models"
	"github.com/zjregee/deepthread/internal/service/tools/notes"
	"github.com/zjregee/deepthread/internal/service/tools/planning"
)

func newPlanCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Inspect a thread's plan",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <thread>",
		Short: "Print the thread's plan and step statuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, false, func(a *App) error {
				plan, err := a.agentService.GetPlan(args[0])
				if errors.Is(err, models.ErrNotFound) {
					fmt.Fprintln(cmd.OutOrStdout(), "No plan exists for this thread.")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatThreadMessage(planning.Render(plan)))
				return nil
			})
		},
	})
	return cmd
}

func newNotesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Inspect a thread's notes",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list <thread>",
			Short: "List the thread's notes",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withApp(cmd, false, func(a *App) error {
					summaries, err := a.agentService.ListNotes(args[0])
					if err != nil {
						return err
					}
					if len(summaries) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "No notes saved in this thread.")
						return nil
					}
					tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tTITLE\tTAGS\tCREATED")
					for _, n := range summaries {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.ID, n.Title, strings.Join(n.Tags, ","), formatTime(n.CreatedAt))
					}
					return tw.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "read <thread> <note>",
			Short: "Print a note; the id may be a unique fragment",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withApp(cmd, false, func(a *App) error {
					note, err := a.agentService.ReadNote(args[0], args[1])
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), formatThreadMessage(notes.RenderNote(note)))
					return nil
				})
			},
		},
	)
	return cmd
}

func newContextCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Inspect a thread's stored context values",
	}

	var path string
	get := &cobra.Command{
		Use:   "get <thread> <key>",
		Short: "Print a context value as indented JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, false, func(a *App) error {
				entry, err := a.agentService.LoadContext(args[0], args[1])
				if err != nil {
					return err
				}

				raw := []byte(entry.Value)
				if path != "" {
					res := gjson.GetBytes(raw, path)
					if !res.Exists() {
						return fmt.Errorf("path %q in %s: %w", path, args[1], models.ErrNotFound)
					}
					raw = []byte(res.Raw)
				}

				var out bytes.Buffer
				if err := json.Indent(&out, raw, "", "  "); err != nil {
					out.Reset()
					out.Write(raw)
				}
				fmt.Fprintln(cmd.OutOrStdout(), out.String())
				return nil
			})
		},
	}
	get.Flags().StringVar(&path, "path", "", "gjson path inside the value, e.g. items.0.name")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list <thread>",
			Short: "List the thread's context keys",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withApp(cmd, false, func(a *App) error {
					keys, err := a.agentService.ListContextKeys(args[0])
					if err != nil {
						return err
					}
					if len(keys) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "No context values stored in this thread.")
						return nil
					}
					for _, k := range keys {
						fmt.Fprintln(cmd.OutOrStdout(), k)
					}
					return nil
				})
			},
		},
		get,
	)
	return cmd
}
