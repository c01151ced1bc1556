// cachectl is a small operational CLI over an execcache [execcache.CacheStore]
// directory.
//
// Usage:
//
//	cachectl stats <dir>
//	cachectl gc <dir> [--yes]
//	cachectl evict <dir> --percent=N [--max-bytes=N] [--yes]
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	natomic "github.com/natefinch/atomic"
	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/mikkelnl/execcache/pkg/execcache"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "cachectl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		printUsage()

		return errors.New("missing command")
	}

	switch args[0] {
	case "stats":
		return runStats(args[1:])
	case "gc":
		return runGC(args[1:])
	case "evict":
		return runEvict(args[1:])
	case "help", "-h", "--help":
		printUsage()

		return nil
	default:
		printUsage()

		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  cachectl stats <dir>")
	fmt.Fprintln(os.Stderr, "  cachectl gc <dir> [--yes]")
	fmt.Fprintln(os.Stderr, "  cachectl evict <dir> --percent=N [--max-bytes=N] [--yes]")
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	statsOut := fs.String("stats-out", "", "write the stats snapshot as JSON to this path atomically")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		return errors.New("stats: missing <dir>")
	}

	store, err := execcache.Open(execcache.Options{Directory: fs.Arg(0)})
	if err != nil {
		return err
	}

	st, err := store.Stats()
	if err != nil {
		return err
	}

	suspicious, err := store.SuspiciousFiles()
	if err != nil {
		return err
	}

	fmt.Printf("total files:   %d\n", st.TotalFiles)
	fmt.Printf("total bytes:   %d\n", st.TotalBytes)
	fmt.Printf("unused files:  %d\n", st.UnusedFiles)
	fmt.Printf("unused bytes:  %d\n", st.UnusedBytes)
	fmt.Printf("suspicious:    %d\n", len(suspicious))

	for _, s := range suspicious {
		fmt.Printf("  %s\n", s)
	}

	if *statsOut != "" {
		return writeStatsSnapshot(*statsOut, st, suspicious)
	}

	return nil
}

// writeStatsSnapshot writes an atomic JSON snapshot of st, so a concurrent
// reader (a dashboard scraping the directory, say) never observes a
// half-written file.
func writeStatsSnapshot(path string, st execcache.Stats, suspicious []string) error {
	snapshot := struct {
		execcache.Stats
		SuspiciousFiles []string `json:"suspicious_files"`
	}{Stats: st, SuspiciousFiles: suspicious}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal stats snapshot: %w", err)
	}

	if err := natomic.WriteFile(path, strings.NewReader(string(data))); err != nil {
		return fmt.Errorf("write stats snapshot %q: %w", path, err)
	}

	return nil
}

func runGC(args []string) error {
	fs := flag.NewFlagSet("gc", flag.ExitOnError)
	yes := fs.Bool("yes", false, "skip the confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		return errors.New("gc: missing <dir>")
	}

	dir := fs.Arg(0)

	if !*yes {
		confirmed, err := confirm(fmt.Sprintf("Delete every unused entry under %q? (yes/no): ", dir))
		if err != nil || !confirmed {
			fmt.Println("Cancelled.")

			return nil
		}
	}

	store, err := execcache.Open(execcache.Options{Directory: dir})
	if err != nil {
		return err
	}

	removed, err := store.DeleteUnused()
	if err != nil {
		return err
	}

	fmt.Printf("removed %d unused entries\n", removed)

	return nil
}

func runEvict(args []string) error {
	fs := flag.NewFlagSet("evict", flag.ExitOnError)
	percent := fs.Int("percent", 0, "percent of the current total bytes to keep (0-100)")
	maxBytesFlag := fs.Int64("max-bytes", -1, "absolute ceiling on total bytes after eviction; negative means unset")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		return errors.New("evict: missing <dir>")
	}

	dir := fs.Arg(0)

	if !*yes {
		confirmed, err := confirm(fmt.Sprintf("Evict entries under %q until at most %d%% of the current bytes remain? (yes/no): ", dir, *percent))
		if err != nil || !confirmed {
			fmt.Println("Cancelled.")

			return nil
		}
	}

	store, err := execcache.Open(execcache.Options{Directory: dir})
	if err != nil {
		return err
	}

	var maxBytes *int64
	if *maxBytesFlag >= 0 {
		maxBytes = maxBytesFlag
	}

	if err := store.Evict(*percent, maxBytes); err != nil {
		return err
	}

	fmt.Println("evict complete")

	return nil
}

// confirm prompts interactively via liner before a destructive operation.
func confirm(prompt string) (bool, error) {
	line := liner.NewLiner()
	defer line.Close()

	answer, err := line.Prompt(prompt)
	if err != nil {
		return false, err
	}

	answer = strings.TrimSpace(strings.ToLower(answer))

	return answer == "yes" || answer == "y", nil
}
