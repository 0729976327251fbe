package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"dehusk/internal/database"
	"dehusk/internal/exitcodes"
)

func main() {
	// Parse command-line flags
	dbPath := flag.String("db", "/var/lib/dehusk/history.db", "Path to history database")
	recent := flag.Int("recent", 0, "Show N most recent operations")
	failures := flag.Int("failures", 0, "Show N most recent failed operations")
	intermediate := flag.Bool("intermediate", false, "Show failures that left a payload in a temporary sibling and were not recovered")
	stats := flag.Bool("stats", false, "Show operation statistics")
	pathPattern := flag.String("path", "", "Filter by path pattern (SQL LIKE syntax)")
	since := flag.Duration("since", 0, "Show operations from the last DURATION (e.g. 2h, 72h)")
	page := flag.Int("page", 0, "Show page N of the history, newest first")
	pageSize := flag.Int("page-size", 20, "Records per page for --page")
	days := flag.Int("days", 30, "Number of days for statistics (default: 30)")
	prune := flag.Int("prune", 0, "Delete records older than N days, then vacuum")
	info := flag.Bool("info", false, "Show database size and record span")
	jsonOutput := flag.Bool("json", false, "Output in JSON format")
	flag.Parse()

	// Open database
	db, err := database.NewHistoryDB(*dbPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to open database %s: %v", *dbPath, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("ERROR: Failed to close database: %v", err)
		}
	}()

	// Handle different query modes
	switch {
	case *stats:
		showStats(db, *days, *jsonOutput)
	case *recent > 0:
		showRecords(db.GetRecent(*recent))(*jsonOutput, "")
	case *failures > 0:
		showRecords(db.GetFailures(*failures))(*jsonOutput, "Failed operations")
	case *intermediate:
		showRecords(db.GetIntermediate())(*jsonOutput, "Unrecovered intermediate states (run: dehusk recover PATH)")
	case *pathPattern != "":
		showRecords(db.GetByPath(*pathPattern))(*jsonOutput, "Operations matching path pattern: "+*pathPattern)
	case *since > 0:
		now := time.Now()
		showRecords(db.GetByDateRange(now.Add(-*since), now))(*jsonOutput, "Operations in the last "+since.String())
	case *page > 0:
		showPage(db, *page, *pageSize, *jsonOutput)
	case *prune > 0:
		pruneRecords(db, *prune)
	case *info:
		showInfo(db, *jsonOutput)
	default:
		flag.Usage()
		fmt.Println("\nExamples:")
		fmt.Println("  dehusk-query --recent 10             # Show 10 most recent operations")
		fmt.Println("  dehusk-query --stats                 # Show operation statistics")
		fmt.Println("  dehusk-query --failures 10           # Show 10 most recent failures")
		fmt.Println("  dehusk-query --intermediate          # Show swaps that still need recovery")
		fmt.Println("  dehusk-query --path '/srv/incoming/%' # Show operations under /srv/incoming")
		fmt.Println("  dehusk-query --since 24h             # Show operations from the last day")
		fmt.Println("  dehusk-query --page 2 --page-size 50 # Browse the history 50 records at a time")
		fmt.Println("  dehusk-query --prune 90              # Delete records older than 90 days")
		os.Exit(exitcodes.InvalidConfig)
	}
}

// showRecords adapts a query result into a printer
func showRecords(records []database.OperationRecord, err error) func(jsonOutput bool, title string) {
	return func(jsonOutput bool, title string) {
		if err != nil {
			log.Fatalf("ERROR: Query failed: %v", err)
		}

		if jsonOutput {
			data, _ := json.MarshalIndent(records, "", "  ")
			fmt.Println(string(data))
			return
		}

		if title != "" {
			fmt.Printf("%s\n\n", title)
		}
		printRecords(records)
	}
}

func showPage(db *database.HistoryDB, page, pageSize int, jsonOutput bool) {
	if pageSize <= 0 {
		log.Fatalf("ERROR: --page-size must be positive, got %d", pageSize)
	}
	records, total, err := db.GetRecentPaginated(pageSize, (page-1)*pageSize)
	if err != nil {
		log.Fatalf("ERROR: Query failed: %v", err)
	}
	pages := (total + pageSize - 1) / pageSize

	if jsonOutput {
		data, _ := json.MarshalIndent(struct {
			Page    int                        `json:"page"`
			Pages   int                        `json:"pages"`
			Total   int                        `json:"total"`
			Records []database.OperationRecord `json:"records"`
		}{page, pages, total, records}, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("Page %d of %d (%d records)\n\n", page, pages, total)
	printRecords(records)
}

func showStats(db *database.HistoryDB, days int, jsonOutput bool) {
	stats, err := db.GetStats(days)
	if err != nil {
		log.Fatalf("ERROR: Failed to get statistics: %v", err)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("Dehusk Statistics (Last %d days)\n", days)
	fmt.Printf("Period: %s to %s\n\n", stats.StartDate.Format("2006-01-02"), stats.EndDate.Format("2006-01-02"))
	fmt.Printf("Total Operations:  %d\n", stats.Total)
	fmt.Printf("Levels Collapsed:  %d\n", stats.LevelsTotal)
	fmt.Printf("Files Relocated:   %d\n", stats.FilesRelocated)
	fmt.Printf("Bytes Relocated:   %s\n\n", formatBytes(stats.BytesRelocated))

	printCounts("By Status:", stats.ByStatus)
	printCounts("Failures By Phase:", stats.FailedByPhase)
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Println(title)
	for _, k := range keys {
		fmt.Printf("  %-15s %d\n", k, counts[k])
	}
	fmt.Println()
}

func pruneRecords(db *database.HistoryDB, days int) {
	n, err := db.DeleteOldRecords(days)
	if err != nil {
		log.Fatalf("ERROR: Failed to prune records: %v", err)
	}
	if err := db.Vacuum(); err != nil {
		log.Fatalf("ERROR: Failed to vacuum database: %v", err)
	}
	fmt.Printf("Deleted %d records older than %d days\n", n, days)
}

func showInfo(db *database.HistoryDB, jsonOutput bool) {
	stats, err := db.GetDatabaseStats()
	if err != nil {
		log.Fatalf("ERROR: Failed to read database info: %v", err)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("Records:  %d\n", stats.TotalRecords)
	fmt.Printf("Size:     %s\n", formatBytes(stats.SizeBytes))
	if stats.TotalRecords > 0 {
		fmt.Printf("Oldest:   %s\n", stats.Oldest.Format("2006-01-02 15:04:05"))
		fmt.Printf("Newest:   %s\n", stats.Newest.Format("2006-01-02 15:04:05"))
	}
}

func printRecords(records []database.OperationRecord) {
	if len(records) == 0 {
		fmt.Println("No records found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTimestamp\tSource\tStatus\tLevels\tFiles\tSize\tPath\tDetail")
	_, _ = fmt.Fprintln(w, "--\t---------\t------\t------\t------\t-----\t----\t----\t------")

	for _, r := range records {
		timestamp := r.Timestamp.Format("2006-01-02 15:04:05")
		detail := r.Seed
		switch {
		case r.TempPath != "":
			detail = fmt.Sprintf("%s: payload at %s", r.Phase, r.TempPath)
		case r.Error != "":
			detail = fmt.Sprintf("%s: %s", r.Phase, r.Error)
		case r.Status == database.StatusRecovered:
			detail = r.Phase
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			r.ID, timestamp, r.Source, r.Status, r.Levels, r.Files, formatBytes(r.Bytes), r.Path, detail)
	}
	_ = w.Flush()
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
