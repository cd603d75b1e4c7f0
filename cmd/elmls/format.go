package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// stdout is where results go; tests swap it.
var stdout io.Writer = os.Stdout

// formatLocationsText formats CLILocation results as "file:line:col" lines.
func formatLocationsText(w io.Writer, locs []CLILocation) {
	for _, loc := range locs {
		fmt.Fprintf(w, "%s:%d:%d\n", loc.File, loc.StartLine, loc.StartCol)
	}
}

// formatSymbolsText formats CLISymbol results as aligned columns. Children
// are indented under their parent.
func formatSymbolsText(w io.Writer, syms []CLISymbol) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tMODULE\tFILE\tLINE")
	writeSymbolRows(tw, syms, 0)
	tw.Flush()
}

func writeSymbolRows(w io.Writer, syms []CLISymbol, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, s := range syms {
		fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\t%d\n", indent, s.Name, s.Kind, s.Module, s.File, s.StartLine)
		writeSymbolRows(w, s.Children, depth+1)
	}
}

func formatHoverText(w io.Writer, h CLIHover) {
	fmt.Fprintln(w, h.Contents)
}

// formatRenameText lists the edits grouped by file, then the moves.
func formatRenameText(w io.Writer, r CLIRename) {
	fmt.Fprintf(w, "Rename %s (%s) to %s\n", r.Symbol.Name, r.Symbol.Kind, r.NewName)
	file := ""
	for _, e := range r.Edits {
		if e.File != file {
			file = e.File
			fmt.Fprintf(w, "\n%s\n", file)
		}
		fmt.Fprintf(w, "  %d:%d-%d:%d  %s\n", e.StartLine, e.StartCol, e.EndLine, e.EndCol, e.NewText)
	}
	if len(r.Moves) > 0 {
		fmt.Fprintln(w)
		for _, m := range r.Moves {
			fmt.Fprintf(w, "move %s -> %s\n", m.From, m.To)
		}
	}
	if len(r.Applied) > 0 {
		fmt.Fprintf(w, "\nApplied to %d files\n", len(r.Applied))
	}
}

func formatDiagnosticsText(w io.Writer, diags []CLIDiagnostic) {
	for _, d := range diags {
		fmt.Fprintf(w, "%s:%d:%d: %s: %s\n", d.File, d.StartLine, d.StartCol, d.Severity, d.Title)
	}
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(result CLIResult) error {
	w := stdout

	switch v := result.Results.(type) {
	case []CLILocation:
		formatLocationsText(w, v)
	case CLILocation:
		formatLocationsText(w, []CLILocation{v})
	case []CLISymbol:
		formatSymbolsText(w, v)
	case CLIHover:
		formatHoverText(w, v)
	case CLIRename:
		formatRenameText(w, v)
	case []CLIDiagnostic:
		formatDiagnosticsText(w, v)
	case string:
		fmt.Fprintln(w, v)
	case nil:
		// Nothing at the position.
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}

	if result.TotalCount != nil {
		count := *result.TotalCount
		shown := resultLen(result.Results)
		if shown < count {
			fmt.Fprintf(w, "\nShowing %d of %d results\n", shown, count)
		}
	}
	return nil
}

// resultLen returns the length of a result slice, or 1 for a single value.
func resultLen(v any) int {
	switch r := v.(type) {
	case []CLILocation:
		return len(r)
	case []CLISymbol:
		return len(r)
	case []CLIDiagnostic:
		return len(r)
	case nil:
		return 0
	default:
		return 1
	}
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
