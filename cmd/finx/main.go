// Command finx runs the post-ingestion scheduler and manages tracked
// accounts.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shihao-ju/finx-sidekick/internal/config"
	"github.com/shihao-ju/finx-sidekick/internal/digest"
	"github.com/shihao-ju/finx-sidekick/internal/fetch"
	"github.com/shihao-ju/finx-sidekick/internal/schedule"
	"github.com/shihao-ju/finx-sidekick/internal/source"
	"github.com/shihao-ju/finx-sidekick/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	switch os.Args[1] {
	case "run":
		runScheduler(cfg, st)
	case "trigger":
		runTrigger(cfg, st)
	case "add":
		requireArg("add <handle>")
		runAdd(cfg, st, os.Args[2])
	case "remove":
		requireArg("remove <handle>")
		runRemove(st, os.Args[2])
	case "list":
		runList(st)
	case "digests":
		runDigests(st)
	case "audit":
		runAudit(st)
	case "maintenance":
		runMaintenance(st)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: finx <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run              Start the ingestion scheduler")
	fmt.Println("  trigger          Run a one-shot manual fetch and exit")
	fmt.Println("  add <handle>     Track an account")
	fmt.Println("  remove <handle>  Stop tracking an account")
	fmt.Println("  list             List tracked accounts")
	fmt.Println("  digests          Show recent digests")
	fmt.Println("  audit            Show recent run records")
	fmt.Println("  maintenance      Remove duplicate digests")
}

func requireArg(usage string) {
	if len(os.Args) < 3 {
		fmt.Printf("Usage: finx %s\n", usage)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		if os.IsNotExist(err) {
			cfg = config.Default()
			if err := cfg.Save(); err != nil {
				log.Printf("Warning: could not save default config: %v", err)
			} else if path, perr := config.ConfigPath(); perr == nil {
				log.Printf("Created default config at %s", path)
			}
			return cfg
		}
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func openStore(cfg *config.Config) *store.Store {
	path, err := cfg.DatabasePath()
	if err != nil {
		log.Fatalf("Failed to resolve database path: %v", err)
	}
	st, err := store.Open(path)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	return st
}

func buildScheduler(cfg *config.Config, st *store.Store) *schedule.Scheduler {
	if cfg.Source.APIKey == "" {
		log.Fatal("No source API key configured")
	}

	client := source.New(cfg.Source.BaseURL, cfg.Source.APIKey)
	syncer := fetch.NewSyncer(client, st)
	builder := digest.NewBuilder(cfg.Digest.MaxItemsPerAccount)

	schedCfg := schedule.Config{
		Timezone:               cfg.Scheduler.Timezone,
		TradingStart:           cfg.Scheduler.TradingHours.Start,
		TradingEnd:             cfg.Scheduler.TradingHours.End,
		TradingIntervalMinutes: cfg.Scheduler.TradingHours.IntervalMinutes,
		MaxAttempts:            cfg.Scheduler.Retry.MaxAttempts,
		BackoffSeconds:         cfg.Scheduler.Retry.BackoffSeconds,
		WeekendTime:            cfg.Scheduler.Weekend.Time,
	}
	if cfg.Scheduler.AfterHours.Enabled {
		schedCfg.AfterHoursTimes = cfg.Scheduler.AfterHours.Times
	}
	if !cfg.Scheduler.Weekend.Enabled {
		schedCfg.WeekendTime = ""
	}

	sched, err := schedule.New(schedCfg, st, syncer, builder)
	if err != nil {
		log.Fatalf("Failed to build scheduler: %v", err)
	}
	return sched
}

func runScheduler(cfg *config.Config, st *store.Store) {
	if !cfg.Scheduler.Enabled {
		log.Println("Scheduler is disabled in config")
		return
	}

	sched := buildScheduler(cfg, st)
	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	for _, next := range sched.Status().NextFires {
		log.Printf("Next fire: %s at %v", next.Name, next.At)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Println("Shutting down...")
}

func runTrigger(cfg *config.Config, st *store.Store) {
	sched := buildScheduler(cfg, st)
	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	var lastID int64
	if records, err := st.RunRecords(1, 0); err == nil && len(records) > 0 {
		lastID = records[0].ID
	}

	if err := sched.TriggerManualRun(); err != nil {
		log.Fatalf("Failed to trigger manual run: %v", err)
	}

	// The fire runs in the background; wait for its run record to land.
	for {
		time.Sleep(500 * time.Millisecond)
		records, err := st.RunRecords(1, 0)
		if err != nil || len(records) == 0 {
			continue
		}
		r := records[0]
		if r.ID <= lastID || r.TriggerKind != schedule.TriggerManual {
			continue
		}
		fmt.Printf("Manual run finished: %s (items=%d, digest=%v)\n", r.Status, r.ItemsFetched, r.DigestProduced)
		if r.Error != "" {
			fmt.Println("Error:", r.Error)
		}
		return
	}
}

// displayNameSource is the slice of the source client registration needs.
type displayNameSource interface {
	UserInfo(ctx context.Context, account string) (string, error)
}

// lookupDisplayName fetches the display name for an account being added.
// Best effort: a failed lookup registers the account without one, and the
// first successful sync backfills it from the item author block.
func lookupDisplayName(src displayNameSource, handle string) string {
	name, err := src.UserInfo(context.Background(), handle)
	if err != nil {
		log.Printf("Warning: could not fetch display name for %s: %v", handle, err)
		return ""
	}
	return name
}

func runAdd(cfg *config.Config, st *store.Store, handle string) {
	var displayName string
	if cfg.Source.APIKey != "" {
		displayName = lookupDisplayName(source.New(cfg.Source.BaseURL, cfg.Source.APIKey), handle)
	}

	added, err := st.RegisterAccount(handle, displayName)
	if err != nil {
		log.Fatalf("Failed to add account: %v", err)
	}
	if !added {
		fmt.Printf("%s is already tracked\n", handle)
		return
	}
	if displayName != "" {
		fmt.Printf("Now tracking %s (%s)\n", handle, displayName)
		return
	}
	fmt.Printf("Now tracking %s\n", handle)
}

func runRemove(st *store.Store, handle string) {
	removed, err := st.DeregisterAccount(handle)
	if err != nil {
		log.Fatalf("Failed to remove account: %v", err)
	}
	if !removed {
		fmt.Printf("%s is not tracked\n", handle)
		return
	}
	fmt.Printf("Stopped tracking %s\n", handle)
}

func runList(st *store.Store) {
	accounts, err := st.Accounts()
	if err != nil {
		log.Fatalf("Failed to list accounts: %v", err)
	}
	if len(accounts) == 0 {
		fmt.Println("No accounts tracked")
		return
	}
	for _, a := range accounts {
		if a.DisplayName != "" {
			fmt.Printf("@%s (%s)\n", a.Handle, a.DisplayName)
		} else {
			fmt.Printf("@%s\n", a.Handle)
		}
	}
}

func runDigests(st *store.Store) {
	digests, err := st.Digests(10, 0)
	if err != nil {
		log.Fatalf("Failed to list digests: %v", err)
	}
	if len(digests) == 0 {
		fmt.Println("No digests yet")
		return
	}
	for _, d := range digests {
		fmt.Printf("--- digest %d (%s, %d items) ---\n", d.ID, d.GeneratedAt.Format("2006-01-02 15:04"), len(d.ItemIDs))
		fmt.Println(d.Body)
	}
}

func runMaintenance(st *store.Store) {
	removed, err := st.RemoveDuplicateDigests()
	if err != nil {
		log.Fatalf("Failed to remove duplicate digests: %v", err)
	}
	if removed == 0 {
		fmt.Println("No duplicate digests found")
		return
	}
	fmt.Printf("Removed %d duplicate digests\n", removed)
}

func runAudit(st *store.Store) {
	records, err := st.RunRecords(50, 0)
	if err != nil {
		log.Fatalf("Failed to list run records: %v", err)
	}
	if len(records) == 0 {
		fmt.Println("No run records yet")
		return
	}
	for _, r := range records {
		line := fmt.Sprintf("%s  %-18s %-8s items=%d digest=%v retries=%d",
			r.At.Format("2006-01-02 15:04:05"), r.TriggerKind, r.Status,
			r.ItemsFetched, r.DigestProduced, r.RetryCount)
		if r.Error != "" {
			line += "  " + r.Error
		}
		fmt.Println(line)
	}
}
