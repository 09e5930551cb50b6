// Package validity performs syntax checking of generated test candidates.
// Checking is purely syntactic: a candidate that parses but imports a
// nonexistent package passes here and fails later at execution time.
package validity

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// candidateFilename is the name reported in parser positions. It matches the
// filename the harness writes the candidate to, so error text fed back into
// the next prompt points at the file the model is expected to produce.
const candidateFilename = "candidate_test.go"

// Result is the outcome of a syntax check.
type Result struct {
	Valid   bool
	Message string // parser position and description when invalid
}

// Check parses candidate Go source text without executing it. Malformed input
// is the condition Check detects, never a reason to return an error: the
// parser's message is surfaced verbatim in Result.Message so it can be fed
// back into the next prompt as corrective context. Empty or whitespace-only
// input is invalid.
func Check(source string) Result {
	if strings.TrimSpace(source) == "" {
		return Result{Valid: false, Message: "empty candidate: no Go source to parse"}
	}

	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, candidateFilename, source, parser.AllErrors); err != nil {
		return Result{Valid: false, Message: err.Error()}
	}
	return Result{Valid: true}
}

// Functions returns the names of top-level Test functions declared in source,
// in declaration order. Returns nil when the source does not parse.
func Functions(source string) []string {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, candidateFilename, source, parser.AllErrors)
	if err != nil {
		return nil
	}

	var names []string
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil {
			continue
		}
		if strings.HasPrefix(fn.Name.Name, "Test") {
			names = append(names, fn.Name.Name)
		}
	}
	return names
}
