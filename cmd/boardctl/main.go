package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/taskboard/internal/auth"
	"github.com/BuzzLyutic/taskboard/internal/board"
	"github.com/BuzzLyutic/taskboard/internal/model"
	"github.com/BuzzLyutic/taskboard/pkg/client"
)

var Version = "dev"

type options struct {
	configPath string
	server     string
	token      string
	verbose    bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "boardctl",
		Short:         "Inspect and reorder task boards",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&opts.server, "server", "", "Server URL (overrides BOARDCTL_SERVER)")
	root.PersistentFlags().StringVar(&opts.token, "token", "", "Bearer token (overrides BOARDCTL_TOKEN)")
	root.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "Log the move pipeline")

	root.AddCommand(boardCmd(opts))
	root.AddCommand(moveCmd(opts))
	root.AddCommand(tokenCmd())
	return root
}

func (o *options) resolve() (Config, error) {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return cfg, err
	}
	if o.server != "" {
		cfg.Server = o.server
	}
	if o.token != "" {
		cfg.Token = o.token
	}
	return cfg, nil
}

func boardCmd(opts *options) *cobra.Command {
	var projectID int64
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Print a project's board",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
			defer cancel()

			cols, err := client.New(cfg.Server, cfg.Token).Board(ctx, projectID)
			if err != nil {
				return err
			}
			b := board.New(projectID)
			b.Hydrate(cols)
			printBoard(cmd.OutOrStdout(), b.Snapshot())
			return nil
		},
	}
	cmd.Flags().Int64VarP(&projectID, "project", "p", 0, "Project ID")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func moveCmd(opts *options) *cobra.Command {
	var (
		projectID int64
		taskID    int64
		status    string
		index     int
	)
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move a task to a column position",
		Long: `Move a task the way a drag on the board would.
The index counts positions among the other tasks of the target column;
a negative index appends to the end.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve()
			if err != nil {
				return err
			}
			target, err := model.ParseStatus(status)
			if err != nil {
				return err
			}

			logger := zap.NewNop()
			if opts.verbose {
				logger, _ = zap.NewDevelopment()
			}
			ctrl := board.NewController(board.New(projectID), client.New(cfg.Server, cfg.Token),
				board.WithTimeout(cfg.Timeout),
				board.WithLogger(logger),
			)
			ctx := cmd.Context()
			if err := ctrl.Load(ctx); err != nil {
				return fmt.Errorf("load board: %w", err)
			}
			if err := ctrl.BeginDrag(taskID); err != nil {
				return fmt.Errorf("task %d: %w", taskID, err)
			}
			done, err := ctrl.Drop(ctx, board.DragEnd{TaskID: taskID, Column: target, Index: index})
			if err != nil {
				return err
			}

			o := <-done
			switch {
			case o.Applied:
				printBoard(cmd.OutOrStdout(), ctrl.Snapshot())
				return nil
			case o.Removed:
				return fmt.Errorf("task %d no longer exists", taskID)
			default:
				return fmt.Errorf("move rejected: %s", o.Message)
			}
		},
	}
	cmd.Flags().Int64VarP(&projectID, "project", "p", 0, "Project ID")
	cmd.Flags().Int64VarP(&taskID, "task", "t", 0, "Task ID")
	cmd.Flags().StringVarP(&status, "status", "s", "", "Target status (NEW, IN_PROGRESS, BLOCKED, DONE)")
	cmd.Flags().IntVarP(&index, "index", "i", board.EndOfColumn, "Target index in the column")
	for _, f := range []string{"project", "task", "status"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

// tokenCmd issues development tokens signed with the server's JWT_SECRET.
func tokenCmd() *cobra.Command {
	var (
		secret  string
		subject string
		manages []int64
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := auth.NewVerifier([]byte(secret)).Issue(auth.Identity{
				Actor:        model.Actor{ID: subject},
				Capabilities: model.Capabilities{ManagedProjects: manages},
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "Signing secret")
	cmd.Flags().StringVar(&subject, "sub", "", "Actor ID")
	cmd.Flags().Int64SliceVar(&manages, "manage", nil, "Projects the actor manages")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func printBoard(w io.Writer, snap board.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, st := range model.Statuses() {
		fmt.Fprintf(tw, "%s (%d)\n", st, len(snap[st]))
		for i, t := range snap[st] {
			assignee := "-"
			if t.AssigneeID != nil {
				assignee = *t.AssigneeID
			}
			fmt.Fprintf(tw, "  %d\t#%d\t%s\t%s\n", i, t.ID, t.Title, assignee)
		}
	}
	tw.Flush()
}
