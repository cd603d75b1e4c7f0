package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jward/elmls/internal/extract"
	"github.com/jward/elmls/internal/index"
	"github.com/jward/elmls/internal/span"
)

// --- File operations ---

func (s *Store) FileByURI(ctx context.Context, uri string) (*File, error) {
	f := &File{}
	var hash string
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT id, uri, module, hash, last_indexed FROM files WHERE uri = ?", uri,
	).Scan(&f.ID, &f.URI, &f.Module, &hash, &last)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by uri: %w", err)
	}
	f.Hash = parseHash(hash)
	f.LastIndexed = last.Time
	return f, nil
}

// Files returns every persisted file row ordered by uri.
func (s *Store) Files(ctx context.Context) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, uri, module, hash, last_indexed FROM files ORDER BY uri")
	if err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}
	defer rows.Close()
	var files []*File
	for rows.Next() {
		f := &File{}
		var hash string
		var last sql.NullTime
		if err := rows.Scan(&f.ID, &f.URI, &f.Module, &hash, &last); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		f.Hash = parseHash(hash)
		f.LastIndexed = last.Time
		files = append(files, f)
	}
	return files, rows.Err()
}

// FileHashes maps each persisted uri to the content hash it was indexed at.
func (s *Store) FileHashes(ctx context.Context) (map[string]uint64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT uri, hash FROM files")
	if err != nil {
		return nil, fmt.Errorf("file hashes: %w", err)
	}
	defer rows.Close()
	out := make(map[string]uint64)
	for rows.Next() {
		var uri, hash string
		if err := rows.Scan(&uri, &hash); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		out[uri] = parseHash(hash)
	}
	return out, rows.Err()
}

// LoadFile reconstructs the index entry of uri, or nil if it was never stored.
func (s *Store) LoadFile(ctx context.Context, uri string) (*index.FileEntry, error) {
	f, err := s.FileByURI(ctx, uri)
	if err != nil || f == nil {
		return nil, err
	}
	return s.loadEntry(ctx, f)
}

// LoadAll reconstructs every persisted index entry.
func (s *Store) LoadAll(ctx context.Context) ([]*index.FileEntry, error) {
	files, err := s.Files(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*index.FileEntry, 0, len(files))
	for _, f := range files {
		e, err := s.loadEntry(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) loadEntry(ctx context.Context, f *File) (*index.FileEntry, error) {
	e := &index.FileEntry{URI: f.URI, Module: f.Module, Hash: f.Hash}
	var err error
	if e.Symbols, err = s.symbolsByFile(ctx, f); err != nil {
		return nil, err
	}
	if e.Imports, err = s.importsByFile(ctx, f); err != nil {
		return nil, err
	}
	if e.Mentions, err = s.mentionsByFile(ctx, f.ID); err != nil {
		return nil, err
	}
	return e, nil
}

// --- Symbol operations ---

const symbolCols = `name, kind, container, parent, signature, doc, exposed,
	start_line, start_col, end_line, end_col,
	sel_start_line, sel_start_col, sel_end_line, sel_end_col`

func scanSymbol(scanner interface{ Scan(...any) error }, uri string) (extract.Symbol, error) {
	var sym extract.Symbol
	var kind string
	var container, parent, sig, doc sql.NullString
	r, sel := &sym.Range, &sym.Selection
	err := scanner.Scan(&sym.Name, &kind, &container, &parent, &sig, &doc, &sym.Exposed,
		&r.Start.Line, &r.Start.Character, &r.End.Line, &r.End.Character,
		&sel.Start.Line, &sel.Start.Character, &sel.End.Line, &sel.End.Character)
	if err != nil {
		return sym, fmt.Errorf("scan symbol: %w", err)
	}
	sym.Kind = extract.Kind(kind)
	sym.URI = uri
	sym.Container = container.String
	sym.Parent = parent.String
	sym.Signature = sig.String
	sym.Doc = doc.String
	return sym, nil
}

func (s *Store) symbolsByFile(ctx context.Context, f *File) ([]extract.Symbol, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+symbolCols+" FROM symbols WHERE file_id = ? ORDER BY ordinal", f.ID)
	if err != nil {
		return nil, fmt.Errorf("symbols by file: %w", err)
	}
	defer rows.Close()
	var out []extract.Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows, f.URI)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// SymbolsByName returns persisted records named name across all files.
func (s *Store) SymbolsByName(ctx context.Context, name string) ([]extract.Symbol, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT f.uri, "+prefixed("s.", symbolCols)+" FROM symbols s JOIN files f ON f.id = s.file_id WHERE s.name = ? ORDER BY f.uri, s.ordinal", name)
	if err != nil {
		return nil, fmt.Errorf("symbols by name: %w", err)
	}
	defer rows.Close()
	var out []extract.Symbol
	for rows.Next() {
		var uri string
		sym, err := scanSymbol(uriScanner{rows, &uri}, "")
		if err != nil {
			return nil, err
		}
		sym.URI = uri
		out = append(out, sym)
	}
	return out, rows.Err()
}

// uriScanner peels a leading uri column off a row before the symbol columns.
type uriScanner struct {
	rows *sql.Rows
	uri  *string
}

func (u uriScanner) Scan(dest ...any) error {
	return u.rows.Scan(append([]any{u.uri}, dest...)...)
}

// --- Import operations ---

func (s *Store) importsByFile(ctx context.Context, f *File) ([]extract.ImportEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT module, alias, expose_all, exposing, start_line, start_col, end_line, end_col
		 FROM imports WHERE file_id = ? ORDER BY ordinal`, f.ID)
	if err != nil {
		return nil, fmt.Errorf("imports by file: %w", err)
	}
	defer rows.Close()
	var out []extract.ImportEdge
	for rows.Next() {
		edge := extract.ImportEdge{URI: f.URI}
		var alias, exposing sql.NullString
		r := &edge.Range
		if err := rows.Scan(&edge.Module, &alias, &edge.All, &exposing,
			&r.Start.Line, &r.Start.Character, &r.End.Line, &r.End.Character); err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		edge.Alias = alias.String
		edge.Exposing = unmarshalExposing(exposing.String)
		out = append(out, edge)
	}
	return out, rows.Err()
}

// ImporterURIs returns the uris of persisted files importing module.
func (s *Store) ImporterURIs(ctx context.Context, module string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT f.uri FROM imports i JOIN files f ON f.id = i.file_id WHERE i.module = ? ORDER BY f.uri", module)
	if err != nil {
		return nil, fmt.Errorf("importer uris: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("scan importer: %w", err)
		}
		out = append(out, uri)
	}
	return out, rows.Err()
}

func (s *Store) mentionsByFile(ctx context.Context, fileID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM mentions WHERE file_id = ? ORDER BY name", fileID)
	if err != nil {
		return nil, fmt.Errorf("mentions by file: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan mention: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func rangeArgs(r span.Range) []any {
	return []any{r.Start.Line, r.Start.Character, r.End.Line, r.End.Character}
}
