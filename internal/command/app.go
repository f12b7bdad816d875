// Package command wires the CLI surface. All side effects arrive
// through Deps so tests can run the app against fakes.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"relay/cli/internal/config"
	"relay/cli/internal/history"
)

// HistoryStore is the slice of the message store the CLI reads.
type HistoryStore interface {
	GetHistoryList() ([]history.RunSummary, error)
	GetMessagesForRun(runID string) ([]history.StoredMessage, error)
	DeleteRunHistory(runID string) error
	ClearAllHistory() error
	GetStorageStats() (history.StorageStats, error)
}

type Deps struct {
	Version     string
	LoadConfig  func() (config.Config, error)
	RunServe    func(context.Context, config.Config) error
	OpenHistory func(config.Config) (HistoryStore, func() error, error)
	Out         io.Writer
}

func BuildApp(deps Deps) *cli.App {
	out := deps.Out
	if out == nil {
		out = os.Stdout
	}
	return &cli.App{
		Name:  "relay",
		Usage: "resilient orchestrator connection client",
		Action: func(ctx *cli.Context) error {
			return runServe(ctx.Context, deps)
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "connect to the orchestrator and serve tool calls",
				Action: func(ctx *cli.Context) error {
					return runServe(ctx.Context, deps)
				},
			},
			{
				Name:  "history",
				Usage: "inspect archived runs",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "list tracked runs, most recent first",
						Action: func(ctx *cli.Context) error {
							return withHistory(deps, func(store HistoryStore) error {
								entries, err := store.GetHistoryList()
								if err != nil {
									return err
								}
								for _, e := range entries {
									title := e.Title
									if title == "" {
										title = "(untitled)"
									}
									fmt.Fprintf(out, "%s\t%s\t%d messages\t%s\n",
										e.RunID, title, e.MessageCount, e.LastUpdated.Format("2006-01-02 15:04:05"))
								}
								return nil
							})
						},
					},
					{
						Name:      "show",
						Usage:     "print the messages archived for one run",
						ArgsUsage: "<run-id>",
						Action: func(ctx *cli.Context) error {
							runID := strings.TrimSpace(ctx.Args().First())
							if runID == "" {
								return errors.New("run id is required")
							}
							return withHistory(deps, func(store HistoryStore) error {
								msgs, err := store.GetMessagesForRun(runID)
								if err != nil {
									return err
								}
								for _, m := range msgs {
									fmt.Fprintf(out, "[%s] %s %s: %s\n",
										m.Timestamp.Format("15:04:05"), m.Direction, m.Type, m.Content)
								}
								return nil
							})
						},
					},
					{
						Name:      "delete",
						Usage:     "delete one run's archive",
						ArgsUsage: "<run-id>",
						Action: func(ctx *cli.Context) error {
							runID := strings.TrimSpace(ctx.Args().First())
							if runID == "" {
								return errors.New("run id is required")
							}
							return withHistory(deps, func(store HistoryStore) error {
								return store.DeleteRunHistory(runID)
							})
						},
					},
					{
						Name:  "clear",
						Usage: "delete every archived run",
						Action: func(ctx *cli.Context) error {
							return withHistory(deps, func(store HistoryStore) error {
								return store.ClearAllHistory()
							})
						},
					},
					{
						Name:  "stats",
						Usage: "archive size and timestamp bounds",
						Action: func(ctx *cli.Context) error {
							return withHistory(deps, func(store HistoryStore) error {
								stats, err := store.GetStorageStats()
								if err != nil {
									return err
								}
								fmt.Fprintf(out, "runs: %d\nmessages: %d\n", stats.RunCount, stats.MessageCount)
								if !stats.OldestMessage.IsZero() {
									fmt.Fprintf(out, "oldest: %s\nnewest: %s\n",
										stats.OldestMessage.Format("2006-01-02 15:04:05"),
										stats.NewestMessage.Format("2006-01-02 15:04:05"))
								}
								return nil
							})
						},
					},
				},
			},
			{
				Name:  "version",
				Usage: "print the build version",
				Action: func(ctx *cli.Context) error {
					v := deps.Version
					if v == "" {
						v = "dev"
					}
					fmt.Fprintln(out, v)
					return nil
				},
			},
		},
	}
}

func runServe(ctx context.Context, deps Deps) error {
	if deps.RunServe == nil {
		return errors.New("serve runner is not configured")
	}
	cfg, err := loadConfig(deps)
	if err != nil {
		return err
	}
	return deps.RunServe(ctx, cfg)
}

func withHistory(deps Deps, fn func(HistoryStore) error) error {
	if deps.OpenHistory == nil {
		return errors.New("history opener is not configured")
	}
	cfg, err := loadConfig(deps)
	if err != nil {
		return err
	}
	store, closeStore, err := deps.OpenHistory(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeStore != nil {
			_ = closeStore()
		}
	}()
	return fn(store)
}

func loadConfig(deps Deps) (config.Config, error) {
	if deps.LoadConfig != nil {
		return deps.LoadConfig()
	}
	return config.Load()
}
