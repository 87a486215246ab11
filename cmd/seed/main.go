package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"nallo/api/internal/app"
	"nallo/api/internal/config"
	"nallo/api/internal/logger"
	"nallo/api/internal/platform"
	"nallo/api/internal/search"
	"nallo/api/internal/seed"
)

func main() {
	cliApp := &cli.App{
		Name:  "seed",
		Usage: "Load a YAML fixture into the graph and content stores",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Path to the fixture file",
				Value:   "db/seed/sample.yaml",
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "Concurrent writes",
				Value:   4,
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Validate the fixture and print counts without writing",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: func(c *cli.Context) error {
			return logger.Init(c.String("log-level"))
		},
		After: func(*cli.Context) error {
			logger.Sync()
			return nil
		},
		Action: seedCommand,
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func seedCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fixture, err := seed.Load(c.String("file"))
	if err != nil {
		return err
	}
	if c.Int("workers") <= 0 {
		return fmt.Errorf("workers must be greater than 0")
	}

	if c.Bool("dry-run") {
		report, err := seed.Run(ctx, nil, fixture, seed.Options{DryRun: true})
		if err != nil {
			return err
		}
		return printReport(report, true)
	}

	stack, err := platform.Open(ctx, config.Load())
	if err != nil {
		return err
	}
	defer stack.Close(context.Background())

	var records []search.DocumentRecord
	report, runErr := seed.Run(ctx, stack.Service, fixture, seed.Options{
		Workers: c.Int("workers"),
		OnDocument: func(doc app.Document) {
			records = append(records, search.DocumentRecord{
				ID:        doc.ID,
				Title:     doc.Title,
				Content:   doc.Content,
				Status:    doc.Status,
				Author:    doc.Author,
				VersionID: doc.VersionID,
			})
		},
	})
	// Index synchronously; the per-document index calls run in the
	// background and may not finish before the process exits.
	stack.Search.ReindexAll(records)

	if err := printReport(report, false); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("seed finished with errors: %w", runErr)
	}
	return nil
}

func printReport(report seed.Report, dryRun bool) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(struct {
		seed.Report
		DryRun bool `json:"dryRun"`
	}{report, dryRun})
}
