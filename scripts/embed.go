// Package scripts bundles the Risor reports that ship with elmls.
package scripts

import "embed"

// FS holds the bundled reports. Each runs against an indexed workspace with
// the index host functions in scope.
//
//go:embed *.risor
var FS embed.FS
