package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"
)

const (
	workspaceDir  = ".filigree"
	defaultDBName = "filigree.db"
)

type Config struct {
	Workspace string
	// Path overrides the database location. Relative paths resolve against
	// the workspace.
	Path string
}

func dbPath(cfg Config) string {
	workspace := cfg.Workspace
	if workspace == "" {
		workspace = "."
	}
	if cfg.Path == "" {
		return filepath.Join(workspace, workspaceDir, defaultDBName)
	}
	if filepath.IsAbs(cfg.Path) {
		return cfg.Path
	}
	return filepath.Join(workspace, cfg.Path)
}

// EnsureWorkspace creates the workspace state directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database with foreign keys, WAL and immediate write
// transactions so concurrent writers queue on BEGIN instead of failing on
// lock upgrade.
func Open(cfg Config) (*sql.DB, error) {
	path := dbPath(cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Path returns the db path for the config.
func Path(cfg Config) string {
	return dbPath(cfg)
}

const beginMaxElapsed = 10 * time.Second

func newBeginBackoff() backoff.BackOff {
	// BackOff values are stateful; build a fresh one per call.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = beginMaxElapsed
	return bo
}

// BeginTx starts a transaction, retrying while SQLite reports the database
// busy or locked.
func BeginTx(ctx context.Context, conn *sql.DB) (*sql.Tx, error) {
	var tx *sql.Tx
	op := func() error {
		var err error
		tx, err = conn.BeginTx(ctx, nil)
		if err == nil {
			return nil
		}
		if IsBusy(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, backoff.WithContext(newBeginBackoff(), ctx)); err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, nil
}

// BeginRead starts a read-only transaction. It skips the immediate lock the
// DSN applies to writers, so under WAL it never waits on them.
func BeginRead(ctx context.Context, conn *sql.DB) (*sql.Tx, error) {
	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read transaction: %w", err)
	}
	return tx, nil
}

// IsBusy reports whether err is SQLite lock contention.
func IsBusy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked")
}
