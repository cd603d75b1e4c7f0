package main

import (
	"github.com/spf13/cobra"

	"github.com/jward/elmls"
	"github.com/jward/elmls/internal/document"
	"github.com/jward/elmls/internal/rename"
)

var (
	flagApply bool
	flagCheck bool
)

var renameCmd = &cobra.Command{
	Use:   "rename <file> <line> <col> <new-name>",
	Short: "Rename the declaration at a position across the workspace",
	Long: `Plans a rename of the declaration the identifier at a position denotes and prints the edits.
Nothing is written unless --apply is given. With --check the workspace is compiled with and
without the rename, and the rename is refused if it adds compiler errors.`,
	Args: cobra.ExactArgs(4),
	RunE: runRename,
}

func init() {
	renameCmd.Flags().BoolVar(&flagApply, "apply", false, "write the edits to disk")
	renameCmd.Flags().BoolVar(&flagCheck, "check", false, "refuse renames that add elm make errors")
}

func runRename(cmd *cobra.Command, args []string) error {
	file, pos, err := parsePosition(args[:3])
	if err != nil {
		return outputError("rename", err)
	}
	newName := args[3]

	engine, err := openIndexed(cmd.Context(), file)
	if err != nil {
		return outputError("rename", err)
	}
	defer engine.Close()

	var opts []elmls.RenameOption
	if flagCheck {
		opts = append(opts, elmls.WithCompilerCheck())
	}
	p, err := engine.Rename(cmd.Context(), elmls.URIFromPath(file), pos, newName, opts...)
	if err != nil {
		return outputError("rename", err)
	}

	out := proposalToCLI(p)
	if flagApply && !p.Empty() {
		touched, err := engine.ApplyRename(cmd.Context(), p)
		if err != nil {
			return outputError("rename", err)
		}
		for _, uri := range touched {
			out.Applied = append(out.Applied, document.PathFromURI(uri))
		}
	}
	total := len(out.Edits)
	return outputResult(CLIResult{Command: "rename", Results: out, TotalCount: &total})
}

// proposalToCLI flattens the edit set in file order.
func proposalToCLI(p *rename.Proposal) CLIRename {
	set := p.Edits()
	out := CLIRename{
		Symbol:  symbolToCLI(p.Target()),
		NewName: p.NewName(),
		Edits:   []CLIEdit{},
	}
	for _, uri := range set.Files() {
		for _, e := range set.Changes[uri] {
			out.Edits = append(out.Edits, CLIEdit{CLILocation: locationToCLI(uri, e.Range), NewText: e.NewText})
		}
	}
	for _, r := range set.Renames {
		out.Moves = append(out.Moves, CLIMove{From: document.PathFromURI(r.OldURI), To: document.PathFromURI(r.NewURI)})
	}
	return out
}
