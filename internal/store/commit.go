package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jward/elmls/internal/extract"
	"github.com/jward/elmls/internal/index"
)

// Compile-time check: *Store can back the index's write-behind queue.
var _ index.Persister = (*Store)(nil)

// PersistFile replaces everything stored for e.URI with e in one transaction.
func (s *Store) PersistFile(ctx context.Context, e *index.FileEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persist %s: begin: %w", e.URI, err)
	}
	defer tx.Rollback()
	if err := writeEntryTx(ctx, tx, e, time.Now()); err != nil {
		return fmt.Errorf("persist %s: %w", e.URI, err)
	}
	return tx.Commit()
}

// DeleteFile drops a file and, by cascade, its symbols, imports and mentions.
func (s *Store) DeleteFile(ctx context.Context, uri string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE uri = ?", uri); err != nil {
		return fmt.Errorf("delete file %s: %w", uri, err)
	}
	return nil
}

// CommitBatch writes every entry buffered in batch within a single
// transaction. Entries already stored are replaced.
func (s *Store) CommitBatch(ctx context.Context, batch *Batch) error {
	entries := batch.Entries()
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for _, e := range entries {
		if err := writeEntryTx(ctx, tx, e, now); err != nil {
			return fmt.Errorf("commit batch: %s: %w", e.URI, err)
		}
	}
	return tx.Commit()
}

func writeEntryTx(ctx context.Context, tx *sql.Tx, e *index.FileEntry, now time.Time) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE uri = ?", e.URI); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	fileID, err := insertFileTx(ctx, tx, e, now)
	if err != nil {
		return fmt.Errorf("file: %w", err)
	}
	for i, sym := range e.Symbols {
		if err := insertSymbolTx(ctx, tx, fileID, i, sym); err != nil {
			return fmt.Errorf("symbol %q: %w", sym.Name, err)
		}
	}
	for i, imp := range e.Imports {
		if err := insertImportTx(ctx, tx, fileID, i, imp); err != nil {
			return fmt.Errorf("import %q: %w", imp.Module, err)
		}
	}
	for _, name := range e.Mentions {
		if _, err := tx.ExecContext(ctx, "INSERT INTO mentions (file_id, name) VALUES (?, ?)", fileID, name); err != nil {
			return fmt.Errorf("mention %q: %w", name, err)
		}
	}
	return nil
}

// --- Transaction-scoped insert helpers ---

func insertFileTx(ctx context.Context, tx *sql.Tx, e *index.FileEntry, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO files (uri, module, hash, last_indexed) VALUES (?, ?, ?, ?)",
		e.URI, e.Module, formatHash(e.Hash), now,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func insertSymbolTx(ctx context.Context, tx *sql.Tx, fileID int64, ordinal int, sym extract.Symbol) error {
	args := []any{fileID, ordinal, sym.Name, string(sym.Kind),
		nullable(sym.Container), nullable(sym.Parent), nullable(sym.Signature), nullable(sym.Doc), sym.Exposed}
	args = append(args, rangeArgs(sym.Range)...)
	args = append(args, rangeArgs(sym.Selection)...)
	_, err := tx.ExecContext(ctx,
		"INSERT INTO symbols (file_id, ordinal, "+symbolCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...,
	)
	return err
}

func insertImportTx(ctx context.Context, tx *sql.Tx, fileID int64, ordinal int, imp extract.ImportEdge) error {
	args := []any{fileID, ordinal, imp.Module, nullable(imp.Alias), imp.All, marshalExposing(imp.Exposing)}
	args = append(args, rangeArgs(imp.Range)...)
	_, err := tx.ExecContext(ctx,
		`INSERT INTO imports (file_id, ordinal, module, alias, expose_all, exposing,
			start_line, start_col, end_line, end_col)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...,
	)
	return err
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// prefixed qualifies each column of a comma separated list with p.
func prefixed(p, cols string) string {
	parts := strings.Split(cols, ",")
	for i, c := range parts {
		parts[i] = p + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}
