// Command telemetry-plot renders a recorded run to an image and prints its
// summary.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/rcdrive/internal/telemetry"
)

func main() {
	dbPath := flag.String("db", "rcdrive.db", "path to telemetry sqlite DB file")
	runID := flag.String("run", "", "run id to plot; empty picks the newest run")
	out := flag.String("out", "run.png", "output image (.png, .svg or .pdf)")
	flag.Parse()

	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("DB path %s not accessible: %v", *dbPath, err)
	}

	store, err := telemetry.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open telemetry database: %v", err)
	}
	defer store.Close()

	summary, err := plotRun(store, *runID, *out)
	if err != nil {
		log.Fatalf("plot failed: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		log.Fatalf("failed to write summary: %v", err)
	}
	log.Printf("wrote %s", *out)
}

// plotRun saves the run's plot to out and returns its summary.
func plotRun(store *telemetry.Store, runID, out string) (telemetry.Summary, error) {
	id, err := resolveRun(store, runID)
	if err != nil {
		return telemetry.Summary{}, err
	}
	samples, err := store.Samples(id, 0)
	if err != nil {
		return telemetry.Summary{}, fmt.Errorf("load samples: %w", err)
	}
	if err := telemetry.SavePlot(out, "run "+id, samples); err != nil {
		return telemetry.Summary{}, err
	}
	return telemetry.Summarize(samples), nil
}

func resolveRun(store *telemetry.Store, runID string) (string, error) {
	if runID != "" {
		ok, err := store.RunExists(runID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("run %q not found", runID)
		}
		return runID, nil
	}
	runs, err := store.Runs()
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", errors.New("database has no runs")
	}
	return runs[0].ID, nil
}
