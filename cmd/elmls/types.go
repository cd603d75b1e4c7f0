package main

// CLIResult is the top-level JSON envelope for all commands that print
// results.
type CLIResult struct {
	Command    string `json:"command"`
	Version    int32  `json:"version,omitempty"`
	Generation uint64 `json:"generation,omitempty"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLILocation is a JSON-friendly range in a file. Lines and columns are
// 0-based; columns count UTF-16 code units.
type CLILocation struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
}

// CLISymbol is a JSON-friendly declaration.
type CLISymbol struct {
	Name      string      `json:"name"`
	Kind      string      `json:"kind"`
	Module    string      `json:"module,omitempty"`
	Parent    string      `json:"parent,omitempty"`
	Signature string      `json:"signature,omitempty"`
	Exposed   bool        `json:"exposed"`
	File      string      `json:"file,omitempty"`
	StartLine int         `json:"start_line"`
	StartCol  int         `json:"start_col"`
	EndLine   int         `json:"end_line"`
	EndCol    int         `json:"end_col"`
	Children  []CLISymbol `json:"children,omitempty"`
}

// CLIHover is the hover text for a position.
type CLIHover struct {
	Contents string      `json:"contents"`
	Range    CLILocation `json:"range"`
}

// CLIEdit is one text replacement of a rename.
type CLIEdit struct {
	CLILocation
	NewText string `json:"new_text"`
}

// CLIMove is a file a module rename moves.
type CLIMove struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// CLIRename describes a planned, and possibly applied, rename.
type CLIRename struct {
	Symbol  CLISymbol `json:"symbol"`
	NewName string    `json:"new_name"`
	Edits   []CLIEdit `json:"edits"`
	Moves   []CLIMove `json:"moves,omitempty"`
	Applied []string  `json:"applied,omitempty"`
}

// CLIDiagnostic is one compiler problem.
type CLIDiagnostic struct {
	CLILocation
	Severity string `json:"severity"`
	Title    string `json:"title"`
	Message  string `json:"message,omitempty"`
}
