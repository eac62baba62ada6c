// Command activation-migrate rewrites legacy activation records to
// the current on-disk shape.
//
// Early versions of the cache wrote message contexts as bare strings
// instead of {prefix, suffix} objects. The codec still reads the
// legacy form, but rewriting records once keeps files greppable and
// lets the legacy path eventually be retired.
//
// Usage:
//
//	activation-migrate -cache /path/to/cache [-dry-run] [-verbose]
//
// It walks every bot and channel under <cache>/activations, reports
// records carrying legacy-shaped contexts, and (unless -dry-run)
// rewrites them in place through the current codec.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/wrenbot/wren/internal/activation"
)

func main() {
	cacheDir := flag.String("cache", "", "Path to the cache directory (contains activations/)")
	dryRun := flag.Bool("dry-run", false, "Report without rewriting files")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	if *cacheDir == "" {
		fmt.Fprintf(os.Stderr, "Usage: activation-migrate -cache /path/to/cache [-dry-run]\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	root := filepath.Join(*cacheDir, "activations")
	if _, err := os.Stat(root); os.IsNotExist(err) {
		logger.Error("activations directory not found", "path", root)
		os.Exit(1)
	}

	files, err := filepath.Glob(filepath.Join(root, "*", "*", "*.json"))
	if err != nil {
		logger.Error("glob failed", "error", err)
		os.Exit(1)
	}

	var scanned, legacy, rewritten, failed int
	store := activation.NewStore(*cacheDir, logger, nil)
	for _, path := range files {
		scanned++
		isLegacy, err := hasLegacyContexts(path)
		if err != nil {
			logger.Warn("skipping unreadable record", "path", path, "error", err)
			failed++
			continue
		}
		if !isLegacy {
			logger.Debug("already current", "path", path)
			continue
		}
		legacy++

		if *dryRun {
			logger.Info("would rewrite", "path", path)
			continue
		}
		if err := store.RewriteRecord(path); err != nil {
			logger.Warn("rewrite failed", "path", path, "error", err)
			failed++
			continue
		}
		rewritten++
		logger.Debug("rewritten", "path", path)
	}

	logger.Info("migration complete",
		"scanned", scanned,
		"legacy", legacy,
		"rewritten", rewritten,
		"failed", failed,
		"dry_run", *dryRun,
	)
}

// hasLegacyContexts reports whether a record file stores any message
// context in the legacy bare-string form. The check is done on the
// raw JSON: the codec normalizes on read, so a decoded record can no
// longer tell the shapes apart.
func hasLegacyContexts(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	var record struct {
		MessageContexts map[string]json.RawMessage `json:"messageContexts"`
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return false, err
	}
	for _, raw := range record.MessageContexts {
		if len(raw) > 0 && raw[0] == '"' {
			return true, nil
		}
	}
	return false, nil
}
