// Package elmls keeps a structural picture of an Elm workspace current while
// files are edited, and answers editor queries against it.
//
// # Pipeline
//
// Every document change goes through the same steps:
//
//  1. Parse: the document store applies the edit and reparses with
//     tree-sitter, reusing the previous tree. Broken code still yields a tree
//     with error regions; parsing never fails on syntax.
//
//  2. Extract: declarations, import edges and identifier mentions of the file
//     are collected into one record set.
//
//  3. Index: the record set atomically replaces the file's previous records in
//     the sharded symbol index, optionally persisted to SQLite.
//
// Queries resolve identifiers against the tree and the index and never see a
// file half-indexed.
//
// # Usage
//
//	e, err := elmls.New("path/to/project", elmls.WithDatabase(".elmls.db"))
//	if err != nil { ... }
//	defer e.Close()
//
//	ctx := context.Background()
//	stats, err := e.IndexWorkspace(ctx)
//
//	def, err := e.Definition(ctx, uri, elmls.Position{Line: 10, Character: 4})
//
// # Queries
//
//   - [Engine.Definition]: where the identifier at a position is declared.
//   - [Engine.References]: every occurrence of the same declaration.
//   - [Engine.Hover]: signature, documentation and declaring module.
//   - [Engine.DocumentSymbols]: the outline of one file.
//   - [Engine.WorkspaceSymbols]: ranked declarations across the workspace.
//   - [Engine.PrepareRename], [Engine.Rename], [Engine.ApplyRename]: validated
//     multi-file renames computed as immutable proposals.
//
// Every response carries the document version it was computed against so
// that clients can drop answers that arrive after a newer edit.
//
// # Positions
//
// Lines are zero-based and columns count UTF-16 code units, as editors do.
package elmls
