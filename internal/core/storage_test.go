package core

import (
	"context"
	"path/filepath"
	"testing"

	"morphicutil/internal/infra/persistence/memory"
	"morphicutil/internal/infra/persistence/sqlite"
)

func TestOpenJournalMemory(t *testing.T) {
	t.Setenv("MORPHIC_JOURNAL_DRIVER", "memory")
	j, err := OpenJournal(context.Background(), JournalConfig{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := j.(*memory.Journal); !ok {
		t.Fatalf("expected memory journal, got %T", j)
	}
}

func TestOpenJournalSQLiteFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "journal.db")
	t.Setenv("MORPHIC_JOURNAL_DRIVER", "")
	t.Setenv("MORPHIC_SQLITE_PATH", path)
	j, err := OpenJournal(context.Background(), JournalConfig{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = j.Close() }()
	sj, ok := j.(*sqlite.Journal)
	if !ok {
		t.Fatalf("expected sqlite journal, got %T", j)
	}
	if sj.Path() != path {
		t.Fatalf("unexpected path %s", sj.Path())
	}
}

func TestOpenJournalConfigWinsOverEnv(t *testing.T) {
	t.Setenv("MORPHIC_JOURNAL_DRIVER", "postgres")
	j, err := OpenJournal(context.Background(), JournalConfig{Driver: JournalMemory})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := j.(*memory.Journal); !ok {
		t.Fatalf("explicit driver must win, got %T", j)
	}
}

func TestOpenJournalUnknownDriver(t *testing.T) {
	if _, err := OpenJournal(context.Background(), JournalConfig{Driver: "cassandra"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
