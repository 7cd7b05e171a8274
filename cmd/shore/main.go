package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/torfstack/shore/internal/config"
	"github.com/torfstack/shore/internal/db"
	"github.com/torfstack/shore/internal/logging"
	"github.com/torfstack/shore/internal/remote"
	"github.com/torfstack/shore/internal/sync"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "shore",
		Short: "One-way directory to object storage synchronization",
	}

	var debug bool
	rootCmd.PersistentFlags().
		BoolVarP(&debug, "debug", "d", false, "Enable debug output")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.SetDebug(debug)
	}

	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Create or update the configuration interactively",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.GetInteractive()
			if err != nil {
				logging.Fatalf("Could not initialize configuration: %s", err)
			}
			fmt.Printf("Configured: '%s' -> %s bucket '%s'\n", cfg.LocalDir, cfg.Backend, cfg.Bucket)
		},
	}

	var daemonCmd = &cobra.Command{
		Use:   "daemon",
		Short: "Watch the local directory and mirror changes into the bucket",
		Run: func(cmd *cobra.Command, args []string) {
			runDaemon()
		},
	}

	var purge bool
	var auditCmd = &cobra.Command{
		Use:   "audit",
		Short: "Find remote objects without a local counterpart",
		Run: func(cmd *cobra.Command, args []string) {
			runAudit(purge)
		},
	}
	auditCmd.Flags().BoolVar(&purge, "purge", false, "Delete ghost objects instead of only reporting them")

	var limit int
	var verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "List remote objects under the configured prefix",
		Run: func(cmd *cobra.Command, args []string) {
			runVerify(limit)
		},
	}
	verifyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of objects to list")

	rootCmd.AddCommand(initCmd, daemonCmd, auditCmd, verifyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func setup(ctx context.Context) (config.Config, remote.Store, *remote.Mapper) {
	cfg, err := config.Get()
	if err != nil {
		logging.Fatalf("Could not load configuration: %s", err)
	}
	store, err := remote.NewStore(ctx, cfg)
	if err != nil {
		logging.Fatalf("Could not connect to backend '%s': %s", cfg.Backend, err)
	}
	mapper, err := remote.NewMapper(cfg.LocalDir, cfg.Prefix)
	if err != nil {
		logging.Fatalf("Could not map '%s': %s", cfg.LocalDir, err)
	}
	return cfg, store, mapper
}

func runDaemon() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, store, mapper := setup(ctx)

	baseline, err := db.New(ctx)
	if err != nil {
		logging.Fatalf("Could not open baseline database: %s", err)
	}
	defer func() {
		if err = baseline.Close(); err != nil {
			logging.Error("Could not close baseline database", err)
		}
	}()

	engine := sync.NewEngine(cfg, store, mapper, sync.WithBaseline(baseline))
	if err = engine.Start(ctx); err != nil {
		logging.Fatalf("Could not start sync: %s", err)
	}

	if cfg.AuditInterval > 0 {
		// Sharing the engine's in-flight view keeps the audit from
		// purging an object that is mid-upload.
		auditor := sync.NewAuditor(store, mapper, engine.Keys(), nil)
		go func() {
			ticker := time.NewTicker(cfg.AuditInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := auditor.Audit(ctx, true); err != nil {
						logging.Error("Periodic audit failed", err)
					}
				}
			}
		}()
	}

	<-ctx.Done()
	if err = engine.Stop(); err != nil {
		logging.Error("Shutdown did not finish cleanly", err)
	}
}

func runAudit(purge bool) {
	ctx := context.Background()
	_, store, mapper := setup(ctx)

	auditor := sync.NewAuditor(store, mapper, nil, nil)
	report, err := auditor.Audit(ctx, purge)
	if err != nil {
		logging.Fatalf("Audit failed: %s", err)
	}

	fmt.Printf("scanned: %d\n", report.Scanned)
	for _, key := range report.Ghosts {
		fmt.Printf("ghost:   %s\n", key)
	}
	for _, key := range report.Purged {
		fmt.Printf("purged:  %s\n", key)
	}
	for _, failure := range report.Failures {
		fmt.Printf("failed:  %s (%s)\n", failure.Key, failure.Err)
	}
	if !purge && len(report.Ghosts) > 0 {
		fmt.Println("run again with --purge to delete ghost objects")
	}
}

func runVerify(limit int) {
	ctx := context.Background()
	cfg, store, mapper := setup(ctx)

	prefix := mapper.Prefix()
	if prefix != "" {
		prefix += "/"
	}

	count := 0
	err := store.List(ctx, prefix, func(obj remote.Object) error {
		if count >= limit {
			return nil
		}
		count++
		fmt.Printf("%10d  %s\n", obj.Size, obj.Key)
		return nil
	})
	if err != nil {
		logging.Fatalf("Could not list bucket '%s': %s", cfg.Bucket, err)
	}
	fmt.Printf("%d object(s) shown\n", count)
}
