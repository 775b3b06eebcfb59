package core

import (
	"context"
	"fmt"
	"os"

	"morphicutil/internal/infra/persistence/memory"
	"morphicutil/internal/infra/persistence/postgres"
	"morphicutil/internal/infra/persistence/sqlite"
	"morphicutil/pkg/domain"
)

// JournalDriver identifies a run journal backend.
type JournalDriver string

const (
	JournalMemory   JournalDriver = "memory"   // process lifetime only
	JournalSQLite   JournalDriver = "sqlite"   // embedded file
	JournalPostgres JournalDriver = "postgres" // shared server
)

// JournalConfig selects and locates a journal backend. Empty fields fall
// back to the environment:
//
//	MORPHIC_JOURNAL_DRIVER: memory|sqlite|postgres (default sqlite)
//	MORPHIC_SQLITE_PATH: sqlite file (default ./morphic-util.db)
//	MORPHIC_POSTGRES_DSN: DSN when the driver is postgres
type JournalConfig struct {
	Driver      JournalDriver
	SQLitePath  string
	PostgresDSN string
}

func (c JournalConfig) withEnv() JournalConfig {
	if c.Driver == "" {
		c.Driver = JournalDriver(os.Getenv("MORPHIC_JOURNAL_DRIVER"))
	}
	if c.Driver == "" {
		c.Driver = JournalSQLite
	}
	if c.SQLitePath == "" {
		c.SQLitePath = os.Getenv("MORPHIC_SQLITE_PATH")
	}
	if c.PostgresDSN == "" {
		c.PostgresDSN = os.Getenv("MORPHIC_POSTGRES_DSN")
	}
	return c
}

// OpenJournal opens the configured run journal.
func OpenJournal(ctx context.Context, cfg JournalConfig) (domain.Journal, error) {
	cfg = cfg.withEnv()
	switch cfg.Driver {
	case JournalMemory:
		return memory.NewJournal(), nil
	case JournalSQLite:
		j, err := sqlite.NewJournal(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return j, nil
	case JournalPostgres:
		j, err := postgres.NewJournal(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return j, nil
	default:
		return nil, fmt.Errorf("unknown journal driver %q", cfg.Driver)
	}
}
