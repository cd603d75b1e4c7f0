package main

import (
	"fmt"
	"path/filepath"

	"github.com/risor-io/risor/object"
	"github.com/spf13/cobra"

	"github.com/jward/elmls/internal/script"
	"github.com/jward/elmls/scripts"
)

var (
	flagScriptsDir string
	flagEval       string
)

var scriptCmd = &cobra.Command{
	Use:   "script [name] [path]",
	Short: "Run a Risor report against the workspace index",
	Long: `Runs a Risor script with the index host functions in scope: symbols_by_name, symbols_by_file,
workspace_symbols, imports_of, importers_of, files and db_query. Scripts are looked up among the
bundled reports (module_graph, exposed_api) unless --scripts-dir is given. --eval runs inline source.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runScript,
}

func init() {
	scriptCmd.Flags().StringVar(&flagScriptsDir, "scripts-dir", "", "load scripts from this directory instead of the bundled set")
	scriptCmd.Flags().StringVar(&flagEval, "eval", "", "evaluate this source instead of a named script")
}

func runScript(cmd *cobra.Command, args []string) error {
	if flagEval == "" && len(args) == 0 {
		return outputError("script", fmt.Errorf("requires a script name or --eval"))
	}
	var pathArgs []string
	if flagEval == "" {
		pathArgs = args[1:]
	} else {
		pathArgs = args
	}
	target, err := resolveTargetDir(pathArgs)
	if err != nil {
		return outputError("script", err)
	}
	engine, err := openIndexed(cmd.Context(), target)
	if err != nil {
		return outputError("script", err)
	}
	defer engine.Close()

	var opts []script.Option
	if flagScriptsDir == "" {
		opts = append(opts, script.WithFS(scripts.FS))
	}
	if engine.Store() != nil {
		opts = append(opts, script.WithStore(engine.Store()))
	}
	host := script.New(engine.Index(), flagScriptsDir, opts...)
	extra := map[string]any{"root": engine.Root()}

	label := "<inline>"
	var obj object.Object
	if flagEval != "" {
		obj, err = host.RunSource(cmd.Context(), flagEval, extra)
	} else {
		label = scriptPath(args[0])
		obj, err = host.RunScript(cmd.Context(), label, extra)
	}
	if err != nil {
		return outputError("script", err)
	}
	value := obj.Interface()
	if flagFormat == "text" {
		fmt.Fprintln(stdout, value)
		return nil
	}
	return outputResult(CLIResult{Command: "script " + label, Results: value})
}

// scriptPath adds the .risor extension to bare script names.
func scriptPath(name string) string {
	if filepath.Ext(name) == "" {
		return name + ".risor"
	}
	return name
}
