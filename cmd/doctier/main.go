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
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func conversationFlags(required bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "conversation",
			Aliases:  []string{"c"},
			Usage:    "Conversation id",
			Required: required,
		},
		&cli.StringFlag{
			Name:     "user",
			Aliases:  []string{"u"},
			Usage:    "User id",
			Required: required,
		},
	}
}

func modelFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "model",
		Aliases: []string{"m"},
		Usage:   "Target model whose context budget drives the tier decision (defaults to default_model from config)",
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "doctier",
		Usage: "Tiered document storage and hybrid retrieval for chat context",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to YAML config file",
				Value:   "doctier.yaml",
				EnvVars: []string{"DOCTIER_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Dotenv file loaded before reading the config",
				Value: ".env",
			},
		},
		Before: func(c *cli.Context) error {
			if err := loadEnvFile(c.String("env-file")); err != nil {
				return err
			}
			return setupLogger(c)
		},
		Commands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "Upload one or more documents to a conversation",
				ArgsUsage: "FILE...",
				Action:    uploadCommand,
				Flags:     append(conversationFlags(true), modelFlag()),
			},
			{
				Name:      "ingest",
				Usage:     "Upload every file in a directory concurrently",
				ArgsUsage: "DIR",
				Action:    ingestCommand,
				Flags: append(conversationFlags(true), modelFlag(),
					&cli.BoolFlag{
						Name:  "recursive",
						Usage: "Descend into subdirectories",
					},
				),
			},
			{
				Name:      "delete",
				Usage:     "Delete a document",
				ArgsUsage: "DOCUMENT_ID",
				Action:    deleteCommand,
				Flags:     conversationFlags(true),
			},
			{
				Name:   "list",
				Usage:  "List the documents of a conversation",
				Action: listCommand,
				Flags:  conversationFlags(true),
			},
			{
				Name:      "search",
				Usage:     "Search indexed documents of a conversation and user",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: append(conversationFlags(true),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
						Value: 5,
					},
					&cli.Float64Flag{
						Name:  "threshold",
						Usage: "Minimum fused score",
					},
				),
			},
			{
				Name:      "context",
				Usage:     "Print the document context assembled for a query",
				ArgsUsage: "QUERY",
				Action:    contextCommand,
				Flags:     conversationFlags(true),
			},
			{
				Name:   "clear",
				Usage:  "Remove a conversation's inline and temporary documents",
				Action: clearCommand,
				Flags:  conversationFlags(true),
			},
			{
				Name:   "cleanup",
				Usage:  "Remove expired documents",
				Action: cleanupCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Keep running and sweep every cleanup_interval until interrupted",
					},
				},
			},
			{
				Name:   "reindex",
				Usage:  "Re-embed the indexed chunks of a conversation and user with the configured embedder",
				Action: reindexCommand,
				Flags: append(conversationFlags(false),
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks to embed in each call",
						Value: 64,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N chunks",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				),
			},
			{
				Name:   "profiles",
				Usage:  "Show the model context profiles used for tier decisions",
				Action: profilesCommand,
			},
		},
	}
}

// loadEnvFile loads a dotenv file. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
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
