// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "newsrag",
		Usage: "Index email newsletters and answer questions about them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   "newsrag.yaml",
				EnvVars: []string{"NEWSRAG_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from this file if it exists",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to the database directory (overrides the config file)",
			},
		},
		Before: func(c *cli.Context) error {
			if err := setupLogger(c); err != nil {
				return err
			}
			return loadEnvFile(c.String("env-file"))
		},
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Fetch new messages from the mail directory and index them",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dir",
						Usage: "Directory of .eml files (overrides mail.dir)",
					},
					&cli.IntFlag{
						Name:  "max-pages",
						Usage: "Stop after this many pages (0 means no limit)",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of messages prepared concurrently (overrides ingest.workers)",
					},
					&cli.StringFlag{
						Name:  "metrics-addr",
						Usage: "Serve Prometheus metrics on this address while ingesting, e.g. :9090",
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "Answer a question from the indexed newsletters",
				ArgsUsage: "<question>",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "sender", Usage: "Only use newsletters from this sender"},
					&cli.StringFlag{Name: "company", Usage: "Only use newsletters from this company key"},
					&cli.StringFlag{Name: "since", Usage: "Only use newsletters sent on or after this date (YYYY-MM-DD)"},
					&cli.StringFlag{Name: "until", Usage: "Only use newsletters sent before this date (YYYY-MM-DD)"},
					&cli.IntFlag{Name: "top-k", Usage: "Number of passages to retrieve (overrides retrieval.top_k)"},
					&cli.BoolFlag{Name: "explain", Usage: "Print the query plan and retrieved passages"},
				},
			},
			{
				Name:      "delete",
				Usage:     "Remove a message and all of its passages from the index",
				ArgsUsage: "<source-id>",
				Action:    deleteCommand,
			},
			{
				Name:   "failures",
				Usage:  "List messages whose ingestion failed",
				Action: failuresCommand,
			},
			{
				Name:   "stats",
				Usage:  "Show what the index holds",
				Action: statsCommand,
			},
			{
				Name:   "reembed",
				Usage:  "Copy the index into a new database with a different embedding model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "target",
						Aliases:  []string{"t"},
						Usage:    "Path to the new database directory",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "embedding-host",
						Usage: "Embedding service host URL (defaults to ai.embedding_host)",
					},
					&cli.StringFlag{
						Name:     "embedding-model",
						Usage:    "Embedding model name",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of records to process in each batch",
						Value: 64,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N records",
						Value: 100,
					},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

// loadEnvFile loads path into the environment. A missing file is fine;
// variables already set are not overridden.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
