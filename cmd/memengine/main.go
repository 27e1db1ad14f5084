// cmd/memengine is the single entry point for the persistent semantic
// memory engine. It loads configuration, opens the configured storage
// backend, decides this process's coordinator role (spec §4.9), and then
// serves whichever transports are enabled: MCP over stdio, and/or the HTTP
// coordinator surface.
//
// CRITICAL: when MCP is enabled, ALL logging MUST go to stderr. Any bytes
// written to stdout that are not valid JSON-RPC 2.0 response frames will
// corrupt the protocol.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	httpapi "github.com/memento-engine/memengine/internal/api/http"
	"github.com/memento-engine/memengine/internal/api/mcp"
	"github.com/memento-engine/memengine/internal/backup"
	"github.com/memento-engine/memengine/internal/config"
	"github.com/memento-engine/memengine/internal/coordinator"
	"github.com/memento-engine/memengine/internal/embedding"
	"github.com/memento-engine/memengine/internal/maintenance"
	"github.com/memento-engine/memengine/internal/memerr"
	"github.com/memento-engine/memengine/internal/service"
	"github.com/memento-engine/memengine/internal/storage"
	"github.com/memento-engine/memengine/internal/storage/cloud"
	"github.com/memento-engine/memengine/internal/storage/federated"
	"github.com/memento-engine/memengine/internal/storage/sqlite"
)

func main() {
	// Redirect the default logger to stderr so that any incidental log call
	// (this file's own, or an imported package's) never pollutes the stdout
	// JSON-RPC stream when MCP is enabled.
	log.SetOutput(os.Stderr)
	log.SetPrefix("memengine: ")
	log.SetFlags(log.LstdFlags)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	decision := coordinator.SelectMode(ctx, coordinator.Config{
		FederationEndpoint: cfg.Federation.Endpoint,
		CoordinatorAddr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		HTTPEnabled:        cfg.Features.EnableHTTP,
	})

	backend, err := openBackend(ctx, cfg, decision)
	if err != nil {
		log.Fatalf("failed to open storage backend: %v", err)
	}
	defer backend.Close()

	if err := backend.Initialize(ctx); err != nil {
		if memerr.Is(err, memerr.KindDimensionMismatch) {
			// Degraded but alive: health reports the mismatch, store_memory
			// refuses writes, and read paths that don't need vectors (e.g.
			// search_by_tag) keep working.
			log.Printf("warning: %v", err)
		} else {
			log.Fatalf("failed to initialize backend: %v", err)
		}
	}

	svc := service.New(backend, service.HostnamePolicy{
		Enabled: cfg.Features.HostnameTaggingEnabled,
	}, 0)
	defer svc.Close()

	log.Printf("mode=%s backend=%s", decision.Mode, cfg.Storage.Backend)

	scheduler := maintenance.New(maintenance.Task{
		Name:     "cleanup_duplicates",
		Interval: 6 * time.Hour,
		Run: func(ctx context.Context) error {
			resp, err := svc.CleanupDuplicates(ctx)
			if err != nil {
				return err
			}
			if resp.Removed > 0 {
				log.Printf("maintenance: cleanup_duplicates removed %d duplicate rows", resp.Removed)
			}
			return nil
		},
	})
	scheduler.Start(ctx)

	var wg sync.WaitGroup

	if cfg.Features.EnableMCP {
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv := mcp.NewServer(svc)
			transport := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout)
			log.Println("mcp: ready — serving JSON-RPC 2.0 on stdin/stdout")
			if err := transport.Serve(ctx); err != nil {
				log.Printf("mcp: transport stopped: %v", err)
			}
			cancel() // stdin closing (e.g. the parent process exited) ends the whole process
		}()
	}

	if decision.Mode != coordinator.ModeHTTPClient && (cfg.Storage.Backend == "embedded" || cfg.Storage.Backend == "") {
		go coordinator.WatchWAL(ctx, cfg.Storage.EmbeddedPath)

		bsvc, err := backup.NewBackupService(backup.BackupConfig{
			DBPath:        cfg.Storage.EmbeddedPath,
			BackupDir:     filepath.Join(filepath.Dir(cfg.Storage.EmbeddedPath), "backups"),
			Interval:      time.Hour,
			VerifyBackups: true,
		})
		if err != nil {
			log.Printf("backup: disabled: %v", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := bsvc.Start(ctx); err != nil && ctx.Err() == nil {
					log.Printf("backup: stopped: %v", err)
				}
			}()
		}
	}

	if decision.Mode == coordinator.ModeHTTPServer && decision.Listener != nil {
		httpSrv := httpapi.NewServer(svc, cfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("http: serving coordinator surface on %s", decision.Listener.Addr())
			if err := httpSrv.Serve(ctx, decision.Listener); err != nil {
				log.Printf("http: serve error: %v", err)
			}
		}()
	}

	wg.Wait()
	scheduler.Wait()
}

// openBackend opens the storage backend this process should use: the
// federated HTTP client when mode selection decided so, otherwise the
// configured embedded/cloud backend.
func openBackend(ctx context.Context, cfg *config.Config, decision coordinator.Decision) (storage.Backend, error) {
	if decision.Mode == coordinator.ModeHTTPClient {
		return federated.Open(federated.Config{
			Endpoint: cfg.Federation.Endpoint,
			APIKey:   cfg.Federation.APIKey,
		})
	}

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	switch cfg.Storage.Backend {
	case "cloud":
		baseDelay := time.Duration(cfg.Cloud.BaseDelaySeconds * float64(time.Second))
		return cloud.Open(ctx, cfg.Cloud.DSN, embedder, cfg.Cloud.MaxRetries, baseDelay)
	case "embedded", "":
		pragmas := cfg.Storage.Pragmas
		if decision.TunedForSingleProcess {
			pragmas = append(append([]string{}, pragmas...), "busy_timeout=10000")
		}
		return sqlite.Open(cfg.Storage.EmbeddedPath, embedder, pragmas)
	case "federated":
		return federated.Open(federated.Config{
			Endpoint: cfg.Federation.Endpoint,
			APIKey:   cfg.Federation.APIKey,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
