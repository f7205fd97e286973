package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Migration is one registered schema step. Steps run in registration order,
// each inside its own transaction.
type Migration struct {
	Name        string
	Description string
	SQL         string
}

// Checksum returns the hex SHA-256 of the migration body. Checksums of
// applied migrations are immutable; Validate flags any drift.
func (m Migration) Checksum() string {
	sum := sha256.Sum256([]byte(m.SQL))
	return hex.EncodeToString(sum[:])
}

// AppliedMigration is one row of the migrations bookkeeping table.
type AppliedMigration struct {
	ID          int64
	Name        string
	ExecutedAt  string
	Checksum    string
	Description string
}

// MigrationStatus summarises how far a database file has been migrated.
type MigrationStatus struct {
	Total        int
	Executed     int
	Pending      int
	PendingNames []string
}

// MigrationDetail is the per-migration view used by status output.
type MigrationDetail struct {
	Name        string
	Description string
	Applied     bool
	ExecutedAt  string
}

// Migrator applies registered migrations to a store.
type Migrator struct {
	store      *Store
	migrations []Migration
}

// NewMigrator returns a Migrator carrying the engine's registered migration
// list.
func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store, migrations: Registered()}
}

// NewMigratorFor returns a Migrator over an explicit list. Tests use it.
func NewMigratorFor(store *Store, migrations []Migration) *Migrator {
	return &Migrator{store: store, migrations: migrations}
}

// EnsureMigrationsTable creates the bookkeeping table if it is absent.
func (m *Migrator) EnsureMigrationsTable(ctx context.Context) error {
	_, err := m.store.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			executed_at TEXT NOT NULL DEFAULT (datetime('now')),
			checksum TEXT NOT NULL,
			description TEXT
		)`)
	if err != nil {
		return fmt.Errorf("%w: create migrations table: %v", ErrMigrationFailed, err)
	}
	return nil
}

// Applied returns the applied migrations keyed by name.
func (m *Migrator) Applied(ctx context.Context) (map[string]AppliedMigration, error) {
	rows, err := m.store.Query(ctx, `
		SELECT id, name, executed_at, checksum, COALESCE(description, '')
		FROM migrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]AppliedMigration)
	for rows.Next() {
		var am AppliedMigration
		if err := rows.Scan(&am.ID, &am.Name, &am.ExecutedAt, &am.Checksum, &am.Description); err != nil {
			return nil, classify(err, "scan migrations", nil)
		}
		applied[am.Name] = am
	}
	return applied, rows.Err()
}

// Up applies every registered migration not yet recorded, in registration
// order. It returns the number applied. A failing migration rolls its own
// transaction back and stops the run.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.EnsureMigrationsTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.Applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Name]; ok {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	err := m.store.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := m.store.Exec(ctx, mig.SQL); err != nil {
			return err
		}
		_, err := m.store.Exec(ctx,
			`INSERT INTO migrations (name, checksum, description) VALUES (?, ?, ?)`,
			mig.Name, mig.Checksum(), mig.Description)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMigrationFailed, mig.Name, err)
	}
	return nil
}

// Status reports totals and the names still pending.
func (m *Migrator) Status(ctx context.Context) (*MigrationStatus, error) {
	if err := m.EnsureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}

	st := &MigrationStatus{Total: len(m.migrations)}
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Name]; ok {
			st.Executed++
		} else {
			st.Pending++
			st.PendingNames = append(st.PendingNames, mig.Name)
		}
	}
	return st, nil
}

// List returns one detail row per registered migration, in order.
func (m *Migrator) List(ctx context.Context) ([]MigrationDetail, error) {
	if err := m.EnsureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}

	details := make([]MigrationDetail, 0, len(m.migrations))
	for _, mig := range m.migrations {
		d := MigrationDetail{Name: mig.Name, Description: mig.Description}
		if am, ok := applied[mig.Name]; ok {
			d.Applied = true
			d.ExecutedAt = am.ExecutedAt
		}
		details = append(details, d)
	}
	return details, nil
}

// Validate recomputes the checksum of every applied migration and reports
// drift. A recorded name that is no longer registered counts as drift too.
func (m *Migrator) Validate(ctx context.Context) error {
	if err := m.EnsureMigrationsTable(ctx); err != nil {
		return err
	}
	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}

	registered := make(map[string]Migration, len(m.migrations))
	for _, mig := range m.migrations {
		registered[mig.Name] = mig
	}

	var bad []string
	for name, row := range applied {
		mig, ok := registered[name]
		if !ok || mig.Checksum() != row.Checksum {
			bad = append(bad, name)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, strings.Join(bad, ", "))
	}
	return nil
}

// Reset drops every application table, view, and trigger, clears the
// migrations table, and re-applies the registered list. Foreign keys are
// disabled on a pinned connection for the drop phase so table order does
// not matter.
func (m *Migrator) Reset(ctx context.Context) error {
	if err := m.EnsureMigrationsTable(ctx); err != nil {
		return err
	}

	m.store.writeMu.Lock()
	err := m.resetLocked(ctx)
	m.store.writeMu.Unlock()
	if err != nil {
		return err
	}

	_, err = m.Up(ctx)
	return err
}

func (m *Migrator) resetLocked(ctx context.Context) error {
	conn, err := m.store.db.Conn(ctx)
	if err != nil {
		return classify(err, "", nil)
	}
	defer conn.Close()

	// The foreign_keys pragma is a no-op inside a transaction, so toggle it
	// on the pinned connection around one.
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return classify(err, "PRAGMA foreign_keys = OFF", nil)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), "PRAGMA foreign_keys = ON")

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "BEGIN", nil)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT name, type FROM sqlite_master
		WHERE type IN ('table', 'view', 'trigger')
		  AND name <> 'migrations'
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY CASE type WHEN 'trigger' THEN 0 WHEN 'view' THEN 1 ELSE 2 END`)
	if err != nil {
		return classify(err, "list schema objects", nil)
	}
	type object struct{ name, kind string }
	var objects []object
	for rows.Next() {
		var o object
		if err := rows.Scan(&o.name, &o.kind); err != nil {
			rows.Close()
			return classify(err, "scan schema objects", nil)
		}
		objects = append(objects, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return classify(err, "list schema objects", nil)
	}

	for _, o := range objects {
		stmt := fmt.Sprintf("DROP %s IF EXISTS %q", strings.ToUpper(o.kind), o.name)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return classify(err, stmt, nil)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM migrations"); err != nil {
		return classify(err, "clear migrations", nil)
	}

	if err := tx.Commit(); err != nil {
		return classify(err, "COMMIT", nil)
	}
	committed = true
	return nil
}
