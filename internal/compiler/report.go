package compiler

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/jward/elmls/internal/span"
)

type report struct {
	Type   string          `json:"type"`
	Path   *string         `json:"path"`
	Title  string          `json:"title"`
	Msg    json.RawMessage `json:"message"`
	Errors []struct {
		Path     string `json:"path"`
		Name     string `json:"name"`
		Problems []struct {
			Title  string          `json:"title"`
			Region region          `json:"region"`
			Msg    json.RawMessage `json:"message"`
		} `json:"problems"`
	} `json:"errors"`
}

type region struct {
	Start struct{ Line, Column int } `json:"start"`
	End   struct{ Line, Column int } `json:"end"`
}

// toRange converts the compiler's 1-based region to a zero-based range.
func (r region) toRange() span.Range {
	return span.Range{
		Start: span.Position{Line: max(r.Start.Line-1, 0), Character: max(r.Start.Column-1, 0)},
		End:   span.Position{Line: max(r.End.Line-1, 0), Character: max(r.End.Column-1, 0)},
	}
}

// ParseReport decodes the JSON report `elm make --report=json` prints on
// failure. Both compile-errors reports and single general errors are handled.
func ParseReport(out []byte) ([]Diagnostic, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, errors.New("empty compiler report")
	}
	var rep report
	if err := json.Unmarshal(out, &rep); err != nil {
		return nil, errors.Wrap(err, "decode compiler report")
	}
	switch rep.Type {
	case "compile-errors":
		var diags []Diagnostic
		for _, file := range rep.Errors {
			for _, p := range file.Problems {
				diags = append(diags, Diagnostic{
					File:     file.Path,
					Severity: SeverityError,
					Title:    p.Title,
					Message:  flatten(p.Msg),
					Range:    p.Region.toRange(),
				})
			}
		}
		return diags, nil
	case "error":
		d := Diagnostic{Severity: SeverityError, Title: rep.Title, Message: flatten(rep.Msg)}
		if rep.Path != nil {
			d.File = *rep.Path
		}
		return []Diagnostic{d}, nil
	}
	return nil, errors.Errorf("unknown compiler report type %q", rep.Type)
}

// flatten joins a message made of plain strings and styled chunks.
func flatten(raw json.RawMessage) string {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		var s string
		if json.Unmarshal(p, &s) == nil {
			b.WriteString(s)
			continue
		}
		var styled struct {
			String string `json:"string"`
		}
		if json.Unmarshal(p, &styled) == nil {
			b.WriteString(styled.String)
		}
	}
	return b.String()
}

// Errors filters diags down to errors.
func Errors(diags []Diagnostic) []Diagnostic {
	var out []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}
