// Command memengine-backup runs or drives the embedded backend's backup
// service out-of-process: as a standalone continuous backup daemon, or as a
// one-shot backup/restore/list/health operation against the same database
// file the engine itself uses.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/memento-engine/memengine/internal/backup"
	"github.com/memento-engine/memengine/internal/config"
)

var (
	dbPath    = flag.String("db", "", "Path to database file (overrides config)")
	backupDir = flag.String("backup-dir", "", "Backup directory path (default: <db dir>/backups)")
	interval  = flag.Duration("interval", time.Hour, "Backup interval for continuous mode")
	verify    = flag.Bool("verify", true, "Verify backups after creation")
	oneshot   = flag.Bool("oneshot", false, "Perform a single backup and exit")
	restore   = flag.String("restore", "", "Restore database from backup file and exit")
	healthCmd = flag.Bool("health", false, "Check backup service health and exit")
	listCmd   = flag.Bool("list", false, "List all available backups and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	dbPathFinal := cfg.Storage.EmbeddedPath
	if *dbPath != "" {
		dbPathFinal = *dbPath
	}
	if dbPathFinal == "" {
		log.Fatal("no database path: set MEMENGINE_EMBEDDED_PATH or pass -db")
	}

	backupDirFinal := *backupDir
	if backupDirFinal == "" {
		backupDirFinal = filepath.Join(filepath.Dir(dbPathFinal), "backups")
	}

	svc, err := backup.NewBackupService(backup.BackupConfig{
		DBPath:    dbPathFinal,
		BackupDir: backupDirFinal,
		Interval:  *interval,
		Retention: backup.RetentionPolicy{
			Hourly:  24,
			Daily:   7,
			Weekly:  4,
			Monthly: 12,
		},
		VerifyBackups: *verify,
	})
	if err != nil {
		log.Fatalf("failed to create backup service: %v", err)
	}

	ctx := context.Background()

	switch {
	case *restore != "":
		handleRestore(ctx, svc, *restore)
	case *healthCmd:
		handleHealth(svc)
	case *listCmd:
		handleList(svc)
	case *oneshot:
		handleOneshot(ctx, svc)
	default:
		runService(ctx, svc)
	}
}

func handleRestore(ctx context.Context, svc *backup.BackupService, backupPath string) {
	log.Printf("restoring database from backup: %s", backupPath)
	if err := svc.RestoreBackup(ctx, backupPath); err != nil {
		log.Fatalf("restore failed: %v", err)
	}
	log.Println("database restored successfully")
}

func handleHealth(svc *backup.BackupService) {
	health, err := svc.HealthCheck()
	if err != nil {
		log.Fatalf("health check failed: %v", err)
	}

	fmt.Printf("Status: %s\n", health.Status)
	if health.Message != "" {
		fmt.Printf("Message: %s\n", health.Message)
	}
	fmt.Printf("Total Backups: %d\n", health.TotalBackups)
	fmt.Printf("Disk Space Used: %.2f MB\n", float64(health.DiskSpaceUsed)/(1024*1024))
	fmt.Printf("Backup Directory: %s\n", health.BackupDir)

	if !health.LastBackup.IsZero() {
		fmt.Printf("Last Backup: %s (%s ago)\n",
			health.LastBackup.Format(time.RFC3339),
			time.Since(health.LastBackup).Round(time.Minute))
	} else {
		fmt.Println("Last Backup: Never")
	}

	if !health.NextBackup.IsZero() {
		fmt.Printf("Next Backup: %s (in %s)\n",
			health.NextBackup.Format(time.RFC3339),
			time.Until(health.NextBackup).Round(time.Minute))
	}

	if health.Status != "healthy" {
		os.Exit(1)
	}
}

func handleList(svc *backup.BackupService) {
	backups, err := svc.ListBackups()
	if err != nil {
		log.Fatalf("failed to list backups: %v", err)
	}

	if len(backups) == 0 {
		fmt.Println("No backups found")
		return
	}

	fmt.Printf("Found %d backup(s):\n\n", len(backups))
	for i, b := range backups {
		fmt.Printf("%d. %s\n", i+1, b.Path)
		fmt.Printf("   Size: %.2f MB\n", float64(b.Size)/(1024*1024))
		fmt.Printf("   Created: %s (%s ago)\n",
			b.Timestamp.Format(time.RFC3339),
			time.Since(b.Timestamp).Round(time.Minute))
		fmt.Println()
	}
}

func handleOneshot(ctx context.Context, svc *backup.BackupService) {
	log.Println("performing one-time backup...")

	result, err := svc.BackupNow(ctx)
	if err != nil {
		log.Fatalf("backup failed: %v", err)
	}

	log.Printf("backup completed successfully:")
	log.Printf("  path: %s", result.Path)
	log.Printf("  size: %.2f MB", float64(result.Size)/(1024*1024))
	log.Printf("  duration: %v", result.Duration)
	log.Printf("  verified: %v", result.Verified)
}

func runService(ctx context.Context, svc *backup.BackupService) {
	go func() {
		if err := svc.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("backup service error: %v", err)
		}
	}()

	log.Println("memengine backup service started")
	log.Println("press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down backup service...")
	if err := svc.Stop(); err != nil {
		log.Printf("warning: %v", err)
	}
	log.Println("backup service stopped")
}
