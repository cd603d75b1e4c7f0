package script

import (
	"context"
	"fmt"
	"strings"

	"github.com/risor-io/risor/object"

	"github.com/jward/elmls/internal/extract"
	"github.com/jward/elmls/internal/store"
)

func stringArg(name string, args []object.Object) (string, *object.Error) {
	if len(args) != 1 {
		return "", object.NewArgsError(name, 1, len(args))
	}
	s, ok := args[0].(*object.String)
	if !ok {
		return "", object.Errorf("%s: expected string, got %s", name, args[0].Type())
	}
	return s.Value(), nil
}

func makeSymbolsByNameFn(ix Index) *object.Builtin {
	return object.NewBuiltin("symbols_by_name", func(ctx context.Context, args ...object.Object) object.Object {
		name, errObj := stringArg("symbols_by_name", args)
		if errObj != nil {
			return errObj
		}
		return symbolsToList(ix.FindByName(name))
	})
}

func makeSymbolsByFileFn(ix Index) *object.Builtin {
	return object.NewBuiltin("symbols_by_file", func(ctx context.Context, args ...object.Object) object.Object {
		uri, errObj := stringArg("symbols_by_file", args)
		if errObj != nil {
			return errObj
		}
		return symbolsToList(ix.FindByFile(uri))
	})
}

// workspace_symbols(query, limit=0) ranks the index the way the editor does.
func makeWorkspaceSymbolsFn(ix Index) *object.Builtin {
	return object.NewBuiltin("workspace_symbols", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 || len(args) > 2 {
			return object.Errorf("workspace_symbols: expected 1 or 2 arguments, got %d", len(args))
		}
		query, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("workspace_symbols: query must be a string, got %s", args[0].Type())
		}
		limit := 0
		if len(args) == 2 {
			n, ok := args[1].(*object.Int)
			if !ok {
				return object.Errorf("workspace_symbols: limit must be an int, got %s", args[1].Type())
			}
			limit = int(n.Value())
		}
		return symbolsToList(ix.Search(query.Value(), limit, nil))
	})
}

func makeImportsOfFn(ix Index) *object.Builtin {
	return object.NewBuiltin("imports_of", func(ctx context.Context, args ...object.Object) object.Object {
		uri, errObj := stringArg("imports_of", args)
		if errObj != nil {
			return errObj
		}
		edges := ix.ImportsOf(uri)
		out := make([]object.Object, 0, len(edges))
		for _, e := range edges {
			out = append(out, importToMap(e))
		}
		return object.NewList(out)
	})
}

func makeImportersOfFn(ix Index) *object.Builtin {
	return object.NewBuiltin("importers_of", func(ctx context.Context, args ...object.Object) object.Object {
		module, errObj := stringArg("importers_of", args)
		if errObj != nil {
			return errObj
		}
		return stringsToList(ix.Importers(module))
	})
}

func makeFilesFn(ix Index) *object.Builtin {
	return object.NewBuiltin("files", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 0 {
			return object.NewArgsError("files", 0, len(args))
		}
		return stringsToList(ix.Files())
	})
}

// db_query(sql, args...) runs a read-only statement against the persisted
// index and returns one map per row.
func makeDBQueryFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("db_query", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 {
			return object.Errorf("db_query: expected at least 1 argument (sql), got %d", len(args))
		}
		stmt, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("db_query: sql must be a string, got %s", args[0].Type())
		}
		if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(stmt.Value())), "SELECT") {
			return object.Errorf("db_query: only SELECT queries are allowed")
		}

		params := make([]any, 0, len(args)-1)
		for _, arg := range args[1:] {
			switch v := arg.(type) {
			case *object.Int:
				params = append(params, v.Value())
			case *object.Float:
				params = append(params, v.Value())
			case *object.String:
				params = append(params, v.Value())
			case *object.Bool:
				params = append(params, v.Value())
			case *object.NilType:
				params = append(params, nil)
			default:
				params = append(params, arg.Inspect())
			}
		}

		rows, err := s.DB().QueryContext(ctx, stmt.Value(), params...)
		if err != nil {
			return object.Errorf("db_query: %v", err)
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return object.Errorf("db_query: columns: %v", err)
		}
		results := []object.Object{}
		for rows.Next() {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return object.Errorf("db_query: scan: %v", err)
			}
			row := make(map[string]object.Object, len(cols))
			for i, col := range cols {
				row[col] = sqlValueToObject(values[i])
			}
			results = append(results, object.NewMap(row))
		}
		if err := rows.Err(); err != nil {
			return object.Errorf("db_query: rows: %v", err)
		}
		return object.NewList(results)
	})
}

func sqlValueToObject(v any) object.Object {
	switch val := v.(type) {
	case nil:
		return object.Nil
	case int64:
		return object.NewInt(val)
	case float64:
		return object.NewFloat(val)
	case string:
		return object.NewString(val)
	case bool:
		return object.NewBool(val)
	case []byte:
		return object.NewString(string(val))
	default:
		return object.NewString(fmt.Sprintf("%v", val))
	}
}

func symbolToMap(sym extract.Symbol) object.Object {
	return object.NewMap(map[string]object.Object{
		"name":       object.NewString(sym.Name),
		"kind":       object.NewString(string(sym.Kind)),
		"uri":        object.NewString(sym.URI),
		"module":     object.NewString(sym.Container),
		"parent":     object.NewString(sym.Parent),
		"signature":  object.NewString(sym.Signature),
		"doc":        object.NewString(sym.Doc),
		"exposed":    object.NewBool(sym.Exposed),
		"start_line": object.NewInt(int64(sym.Selection.Start.Line)),
		"start_col":  object.NewInt(int64(sym.Selection.Start.Character)),
		"end_line":   object.NewInt(int64(sym.Selection.End.Line)),
		"end_col":    object.NewInt(int64(sym.Selection.End.Character)),
	})
}

func symbolsToList(syms []extract.Symbol) object.Object {
	out := make([]object.Object, 0, len(syms))
	for _, s := range syms {
		out = append(out, symbolToMap(s))
	}
	return object.NewList(out)
}

func importToMap(e extract.ImportEdge) object.Object {
	exposing := make([]object.Object, 0, len(e.Exposing))
	for _, x := range e.Exposing {
		exposing = append(exposing, object.NewString(x.Name))
	}
	return object.NewMap(map[string]object.Object{
		"module":       object.NewString(e.Module),
		"alias":        object.NewString(e.Alias),
		"exposing_all": object.NewBool(e.All),
		"exposing":     object.NewList(exposing),
		"line":         object.NewInt(int64(e.Range.Start.Line)),
	})
}

func stringsToList(ss []string) object.Object {
	out := make([]object.Object, 0, len(ss))
	for _, s := range ss {
		out = append(out, object.NewString(s))
	}
	return object.NewList(out)
}
