package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jward/elmls"
	"github.com/jward/elmls/internal/compiler"
	"github.com/jward/elmls/internal/document"
	"github.com/jward/elmls/internal/extract"
	"github.com/jward/elmls/internal/span"
)

var (
	flagLimit              int
	flagIncludeDeclaration bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query an Elm workspace",
	Long:  "Run navigation queries against a workspace. The index is brought up to date first. All line and column numbers are 0-based.",
}

func init() {
	queryCmd.AddCommand(definitionCmd)
	queryCmd.AddCommand(referencesCmd)
	queryCmd.AddCommand(hoverCmd)
	queryCmd.AddCommand(symbolsCmd)
	queryCmd.AddCommand(workspaceSymbolsCmd)
	queryCmd.AddCommand(diagnosticsCmd)

	referencesCmd.Flags().BoolVar(&flagIncludeDeclaration, "include-declaration", false, "include the declaration itself")
	workspaceSymbolsCmd.Flags().IntVar(&flagLimit, "limit", 50, "maximum number of results (0 for all)")
}

// --- Helpers ---

// resolveFilePath converts a file argument to an absolute path.
func resolveFilePath(file string) (string, error) {
	if filepath.IsAbs(file) {
		return file, nil
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolving file path %q: %w", file, err)
	}
	return abs, nil
}

// parseIntArg parses a positional argument as an integer with a clear error.
func parseIntArg(value, name string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", name, value)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be non-negative", name, value)
	}
	return n, nil
}

// parsePosition reads <file> <line> <col> arguments.
func parsePosition(args []string) (string, span.Position, error) {
	file, err := resolveFilePath(args[0])
	if err != nil {
		return "", span.Position{}, err
	}
	line, err := parseIntArg(args[1], "line")
	if err != nil {
		return "", span.Position{}, err
	}
	col, err := parseIntArg(args[2], "col")
	if err != nil {
		return "", span.Position{}, err
	}
	return file, span.Position{Line: line, Character: col}, nil
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(result)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	result := CLIResult{
		Command: command,
		Error:   err.Error(),
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}

func locationToCLI(uri string, r span.Range) CLILocation {
	return CLILocation{
		File:      document.PathFromURI(uri),
		StartLine: r.Start.Line,
		StartCol:  r.Start.Character,
		EndLine:   r.End.Line,
		EndCol:    r.End.Character,
	}
}

func symbolToCLI(sym extract.Symbol) CLISymbol {
	loc := locationToCLI(sym.URI, sym.Selection)
	return CLISymbol{
		Name:      sym.Name,
		Kind:      string(sym.Kind),
		Module:    sym.Container,
		Parent:    sym.Parent,
		Signature: sym.Signature,
		Exposed:   sym.Exposed,
		File:      loc.File,
		StartLine: loc.StartLine,
		StartCol:  loc.StartCol,
		EndLine:   loc.EndLine,
		EndCol:    loc.EndCol,
	}
}

func documentSymbolsToCLI(file string, syms []elmls.DocumentSymbol) []CLISymbol {
	out := make([]CLISymbol, 0, len(syms))
	for _, s := range syms {
		out = append(out, CLISymbol{
			Name:      s.Name,
			Kind:      string(s.Kind),
			Signature: s.Detail,
			File:      file,
			StartLine: s.Selection.Start.Line,
			StartCol:  s.Selection.Start.Character,
			EndLine:   s.Selection.End.Line,
			EndCol:    s.Selection.End.Character,
			Children:  documentSymbolsToCLI(file, s.Children),
		})
	}
	return out
}

// --- Position-Based Commands ---

var definitionCmd = &cobra.Command{
	Use:   "definition <file> <line> <col>",
	Short: "Find where the identifier at a position is declared",
	Args:  cobra.ExactArgs(3),
	RunE:  runDefinition,
}

func runDefinition(cmd *cobra.Command, args []string) error {
	file, pos, err := parsePosition(args)
	if err != nil {
		return outputError("definition", err)
	}
	engine, err := openIndexed(cmd.Context(), file)
	if err != nil {
		return outputError("definition", err)
	}
	defer engine.Close()

	resp, err := engine.Definition(cmd.Context(), elmls.URIFromPath(file), pos)
	if err != nil {
		return outputError("definition", err)
	}
	result := CLIResult{Command: "definition", Version: resp.Version, Generation: resp.Generation}
	if resp.Result != nil {
		result.Results = locationToCLI(resp.Result.URI, resp.Result.Range)
	}
	return outputResult(result)
}

var referencesCmd = &cobra.Command{
	Use:   "references <file> <line> <col>",
	Short: "Find every use of the declaration an identifier denotes",
	Args:  cobra.ExactArgs(3),
	RunE:  runReferences,
}

func runReferences(cmd *cobra.Command, args []string) error {
	file, pos, err := parsePosition(args)
	if err != nil {
		return outputError("references", err)
	}
	engine, err := openIndexed(cmd.Context(), file)
	if err != nil {
		return outputError("references", err)
	}
	defer engine.Close()

	resp, err := engine.References(cmd.Context(), elmls.URIFromPath(file), pos, flagIncludeDeclaration)
	if err != nil {
		return outputError("references", err)
	}
	locs := make([]CLILocation, 0, len(resp.Result))
	for _, l := range resp.Result {
		locs = append(locs, locationToCLI(l.URI, l.Range))
	}
	total := len(locs)
	return outputResult(CLIResult{
		Command:    "references",
		Version:    resp.Version,
		Generation: resp.Generation,
		Results:    locs,
		TotalCount: &total,
	})
}

var hoverCmd = &cobra.Command{
	Use:   "hover <file> <line> <col>",
	Short: "Show the signature and documentation of the identifier at a position",
	Args:  cobra.ExactArgs(3),
	RunE:  runHover,
}

func runHover(cmd *cobra.Command, args []string) error {
	file, pos, err := parsePosition(args)
	if err != nil {
		return outputError("hover", err)
	}
	engine, err := openIndexed(cmd.Context(), file)
	if err != nil {
		return outputError("hover", err)
	}
	defer engine.Close()

	uri := elmls.URIFromPath(file)
	resp, err := engine.Hover(cmd.Context(), uri, pos)
	if err != nil {
		return outputError("hover", err)
	}
	result := CLIResult{Command: "hover", Version: resp.Version, Generation: resp.Generation}
	if resp.Result != nil {
		result.Results = CLIHover{Contents: resp.Result.Contents, Range: locationToCLI(uri, resp.Result.Range)}
	}
	return outputResult(result)
}

// --- File and Workspace Commands ---

var symbolsCmd = &cobra.Command{
	Use:   "symbols <file>",
	Short: "Show the outline of a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSymbols,
}

func runSymbols(cmd *cobra.Command, args []string) error {
	file, err := resolveFilePath(args[0])
	if err != nil {
		return outputError("symbols", err)
	}
	engine, err := openIndexed(cmd.Context(), file)
	if err != nil {
		return outputError("symbols", err)
	}
	defer engine.Close()

	resp, err := engine.DocumentSymbols(cmd.Context(), elmls.URIFromPath(file))
	if err != nil {
		return outputError("symbols", err)
	}
	return outputResult(CLIResult{
		Command:    "symbols",
		Version:    resp.Version,
		Generation: resp.Generation,
		Results:    documentSymbolsToCLI(file, resp.Result),
	})
}

var workspaceSymbolsCmd = &cobra.Command{
	Use:   "workspace-symbols <query>",
	Short: "Search declarations across the workspace",
	Long:  "Ranks declarations against query: exact names first, then prefixes, then fuzzy matches. Matching ignores case.",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspaceSymbols,
}

func runWorkspaceSymbols(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return outputError("workspace-symbols", fmt.Errorf("getting cwd: %w", err))
	}
	engine, err := openIndexed(cmd.Context(), cwd)
	if err != nil {
		return outputError("workspace-symbols", err)
	}
	defer engine.Close()

	resp, err := engine.WorkspaceSymbols(cmd.Context(), args[0], flagLimit)
	if err != nil {
		return outputError("workspace-symbols", err)
	}
	syms := make([]CLISymbol, 0, len(resp.Result))
	for _, s := range resp.Result {
		syms = append(syms, symbolToCLI(s))
	}
	return outputResult(CLIResult{
		Command:    "workspace-symbols",
		Generation: resp.Generation,
		Results:    syms,
	})
}

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics <file>",
	Short: "Compile a file with elm make and report its problems",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiagnostics,
}

func runDiagnostics(cmd *cobra.Command, args []string) error {
	file, err := resolveFilePath(args[0])
	if err != nil {
		return outputError("diagnostics", err)
	}
	engine, err := openIndexed(cmd.Context(), file)
	if err != nil {
		return outputError("diagnostics", err)
	}
	defer engine.Close()

	resp, err := engine.Diagnostics(cmd.Context(), elmls.URIFromPath(file))
	if err != nil {
		return outputError("diagnostics", err)
	}
	return outputResult(CLIResult{
		Command:    "diagnostics",
		Generation: resp.Generation,
		Results:    diagnosticsToCLI(file, resp.Result),
	})
}

func diagnosticsToCLI(file string, diags []compiler.Diagnostic) []CLIDiagnostic {
	out := make([]CLIDiagnostic, 0, len(diags))
	for _, d := range diags {
		out = append(out, CLIDiagnostic{
			CLILocation: CLILocation{
				File:      file,
				StartLine: d.Range.Start.Line,
				StartCol:  d.Range.Start.Character,
				EndLine:   d.Range.End.Line,
				EndCol:    d.Range.End.Character,
			},
			Severity: string(d.Severity),
			Title:    d.Title,
			Message:  d.Message,
		})
	}
	return out
}
