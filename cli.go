// cli.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"checkpointd/internal/checkpoint"
	"checkpointd/internal/config"
	"checkpointd/internal/logging"
	"checkpointd/internal/websocket"
)

// --- Global Flags ---
type cliOptions struct {
	configPath string
	project    string
	session    string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:   "checkpointd",
		Short: "Per-session checkpoints of a project's working tree",
		Long: `checkpointd records a snapshot of a project for every message of an AI
coding session and lets you restore, fork and diff them.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.checkpointd/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&opts.project, "project", "p", "", "project directory (default current directory)")
	rootCmd.PersistentFlags().StringVarP(&opts.session, "session", "s", "cli", "session id")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newInitCmd(opts),
		newCheckpointCmd(opts),
		newAtCmd(opts),
		newListCmd(opts),
		newListAllCmd(opts),
		newRestoreCmd(opts),
		newForkCmd(opts),
		newDiffCmd(opts),
		newVerifyCmd(opts),
		newGCCmd(opts),
		newTimelineCmd(opts),
		newConfigCmd(opts),
	)
	return rootCmd
}

// --- Server ---

func newServeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the checkpoint commands over WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logging.Sync(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app := NewApp(cfg, logger)
			app.Startup(ctx)

			wsServer := websocket.NewServer(app, cfg.Server.Addr,
				websocket.WithLogger(logger.Named("ws")),
				websocket.WithAuthKey(cfg.Server.AuthKey),
				websocket.WithMetrics(app.Gatherer()),
				websocket.WithErrorCodes(errorCode),
				websocket.WithExcludedMethods(internalMethods...),
			)
			app.SetEventHubBroadcaster(wsServer)

			port, err := wsServer.Start(ctx)
			if err != nil {
				app.Shutdown(ctx)
				return fmt.Errorf("start websocket server: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "WS_PORT:%d\n", port)

			<-ctx.Done()
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := wsServer.Stop(shutdownCtx); err != nil {
				logger.Warn("websocket server stop", zap.Error(err))
			}
			app.Shutdown(shutdownCtx)
			return nil
		},
	}
}

// --- Session commands ---

func newInitCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Open or create the project's checkpoint store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(app *App) error {
				records, err := app.ListCheckpoints(opts.session)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "session %s ready (%d checkpoints)\n", opts.session, len(records))
				return nil
			})
		},
	}
}

func newCheckpointCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint <message-index> [message]",
		Short: "Snapshot the project for a message",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			var message string
			if len(args) == 2 {
				message = args[1]
			}
			return opts.withSession(cmd, func(app *App) error {
				id, err := app.CheckpointMessage(opts.session, index, message)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
}

func newAtCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "at <message-index>",
		Short: "Print the checkpoint recorded at a message index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			return opts.withSession(cmd, func(app *App) error {
				id, err := app.GetCheckpointAtMessage(opts.session, index)
				if err != nil {
					return err
				}
				if id == nil {
					return fmt.Errorf("no checkpoint at message %d", index)
				}
				fmt.Fprintln(cmd.OutOrStdout(), *id)
				return nil
			})
		},
	}
}

func newListCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the session's checkpoints, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(app *App) error {
				records, err := app.ListCheckpoints(opts.session)
				if err != nil {
					return err
				}
				return printJSON(cmd, records)
			})
		},
	}
}

func newListAllCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list-all",
		Short: "List every checkpoint of the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(app *App) error {
				project, err := opts.projectPath()
				if err != nil {
					return err
				}
				records, err := app.ListAllCheckpoints(project)
				if err != nil {
					return err
				}
				return printJSON(cmd, records)
			})
		},
	}
}

func newRestoreCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <checkpoint-id>",
		Short: "Make the project match a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(app *App) error {
				result, err := app.RestoreCheckpoint(opts.session, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
}

func newForkCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fork <checkpoint-id> [description]",
		Short: "Branch from a checkpoint",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var description string
			if len(args) == 2 {
				description = args[1]
			}
			return opts.withSession(cmd, func(app *App) error {
				id, err := app.ForkCheckpoint(opts.session, args[0], description)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
}

func newDiffCmd(opts *cliOptions) *cobra.Command {
	var (
		detailed         bool
		unified          bool
		contextLines     int
		ignoreWhitespace bool
	)

	cmd := &cobra.Command{
		Use:   "diff <from-id> <to-id>",
		Short: "Compare two checkpoints",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(app *App) error {
				if !detailed && !unified {
					diff, err := app.DiffCheckpoints(opts.session, args[0], args[1])
					if err != nil {
						return err
					}
					return printJSON(cmd, diff)
				}

				var lines *int
				if cmd.Flags().Changed("context") {
					lines = &contextLines
				}
				var whitespace *bool
				if cmd.Flags().Changed("ignore-whitespace") {
					whitespace = &ignoreWhitespace
				}
				diff, err := app.DiffCheckpointsDetailed(opts.session, args[0], args[1], lines, whitespace)
				if err != nil {
					return err
				}
				if !unified {
					return printJSON(cmd, diff)
				}
				out, err := checkpoint.RenderUnified(diff)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&detailed, "detailed", false, "include line-level hunks")
	cmd.Flags().BoolVar(&unified, "unified", false, "print a unified diff")
	cmd.Flags().IntVarP(&contextLines, "context", "U", 3, "context lines around changes")
	cmd.Flags().BoolVarP(&ignoreWhitespace, "ignore-whitespace", "w", false, "ignore whitespace changes")
	return cmd
}

func newVerifyCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <checkpoint-id>",
		Short: "Check a checkpoint's objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(app *App) error {
				valid, err := app.VerifyCheckpoint(opts.session, args[0])
				if err != nil {
					return err
				}
				if !valid {
					return fmt.Errorf("checkpoint %s failed verification", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
}

func newGCCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Remove objects no checkpoint references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(app *App) error {
				resp, err := app.GC(opts.session)
				if err != nil {
					return err
				}
				return printJSON(cmd, resp)
			})
		},
	}
}

func newTimelineCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline",
		Short: "Print the project's checkpoint tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(app *App) error {
				timeline, err := app.GetTimeline(opts.session)
				if err != nil {
					return err
				}
				return printJSON(cmd, timeline)
			})
		},
	}
}

func newConfigCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// --- Helpers ---

func (o *cliOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log, cfg.LogDir)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func (o *cliOptions) projectPath() (string, error) {
	project := o.project
	if project == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		project = wd
	}
	return filepath.Abs(project)
}

// withApp runs fn against a started App and shuts it down afterwards
func (o *cliOptions) withApp(cmd *cobra.Command, fn func(app *App) error) error {
	cfg, logger, err := o.load()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app := NewApp(cfg, logger)
	app.Startup(ctx)
	defer app.Shutdown(ctx)
	return fn(app)
}

// withSession is withApp with the --session manager initialized
func (o *cliOptions) withSession(cmd *cobra.Command, fn func(app *App) error) error {
	return o.withApp(cmd, func(app *App) error {
		project, err := o.projectPath()
		if err != nil {
			return err
		}
		if err := app.InitSession(project, o.session); err != nil {
			return err
		}
		return fn(app)
	})
}

func parseIndex(s string) (int, error) {
	index, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid message index %q", s)
	}
	return index, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
