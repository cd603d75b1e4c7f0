package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/elmls"
	"github.com/jward/elmls/internal/lsp"
)

var (
	flagWatch    bool
	flagDebounce time.Duration
	flagNoDB     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the Language Server Protocol on stdin and stdout",
	Long:  "Starts a language server. The workspace is the root the client sends at initialize; it is indexed once the client is ready.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&flagWatch, "watch", true, "follow changes made to files outside the editor")
	serveCmd.Flags().DurationVar(&flagDebounce, "debounce", elmls.DefaultDebounce, "how long file changes settle before reindexing")
	serveCmd.Flags().BoolVar(&flagNoDB, "no-db", false, "keep the index in memory only")
}

func runServe(cmd *cobra.Command, args []string) error {
	opts := []lsp.Option{
		lsp.WithDebug(flagVerbose),
		lsp.WithOpener(func(root string) (*elmls.Engine, error) {
			if flagNoDB {
				return elmls.New(root)
			}
			return newEngine(root, resolveDBPath(root))
		}),
	}
	if flagWatch {
		opts = append(opts, lsp.WithWatch(flagDebounce))
	}
	return lsp.New(opts...).RunStdio()
}
