package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shiftcrew/dispatch_backend/config"
	"github.com/shiftcrew/dispatch_backend/models"
)

// migrate runs AutoMigrate for the lifecycle tables. Run it as a release job
// when the server starts with SKIP_MIGRATIONS=true.
func main() {
	timeout := flag.Duration("timeout", 10*time.Minute, "Overall timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.Storage.Driver != config.StorageDriverMySQL {
		fmt.Fprintf(os.Stderr, "STORAGE_DRIVER=%s has nothing to migrate\n", cfg.Storage.Driver)
		os.Exit(1)
	}
	logger := config.NewLogger(os.Stderr, cfg.IsProduction())

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := config.OpenDatabaseWithRetry(ctx, cfg.DB, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	if err := models.MigrateTable(db.WithContext(ctx)); err != nil {
		config.LogError(logger, "migrate", "main", "MigrateTable", nil, err)
		os.Exit(1)
	}
	fmt.Println("migrations applied")
}
