package db

import (
	"context"
	"fmt"
)

// Entry is the last-synced state of one local file, keyed by its
// absolute path.
type Entry struct {
	Path     string
	Size     int64
	MTimeNS  int64
	SHA256   string
	SyncedAt int64
}

func (d *Database) Upsert(ctx context.Context, e Entry) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO baseline (path, size, mtime_ns, sha256, synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			size      = excluded.size,
			mtime_ns  = excluded.mtime_ns,
			sha256    = excluded.sha256,
			synced_at = excluded.synced_at`,
		e.Path, e.Size, e.MTimeNS, e.SHA256, e.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("could not upsert baseline entry for '%s': %w", e.Path, err)
	}
	return nil
}

func (d *Database) Delete(ctx context.Context, path string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM baseline WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("could not delete baseline entry for '%s': %w", path, err)
	}
	return nil
}

func (d *Database) All(ctx context.Context) (map[string]Entry, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT path, size, mtime_ns, sha256, synced_at FROM baseline`)
	if err != nil {
		return nil, fmt.Errorf("could not query baseline: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]Entry)
	for rows.Next() {
		var e Entry
		if err = rows.Scan(&e.Path, &e.Size, &e.MTimeNS, &e.SHA256, &e.SyncedAt); err != nil {
			return nil, fmt.Errorf("could not scan baseline entry: %w", err)
		}
		entries[e.Path] = e
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("could not iterate baseline: %w", err)
	}
	return entries, nil
}
