// Package put loads the source of a program under test and extracts the
// identifiers prompt assembly needs.
package put

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PUT is one program-under-test: a single Go source file and the facts the
// prompt templates reference.
type PUT struct {
	ID        string   // file base name without extension, e.g. "add" for add.go
	Path      string   // absolute or caller-relative path the source was read from
	Source    string   // full source text
	Package   string   // declared package name
	Functions []string // exported top-level function names, declaration order
}

// Load reads and parses one Go source file.
func Load(path string) (*PUT, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source file %s: %w", path, err)
	}
	source := string(data)

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filepath.Base(path), source, parser.AllErrors)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	var functions []string
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil {
			continue
		}
		if fn.Name.IsExported() {
			functions = append(functions, fn.Name.Name)
		}
	}

	return &PUT{
		ID:        strings.TrimSuffix(filepath.Base(path), ".go"),
		Path:      path,
		Source:    source,
		Package:   file.Name.Name,
		Functions: functions,
	}, nil
}

// LoadDir loads every .go file in dir (non-recursive, _test.go files
// excluded), sorted by file name. Files that fail to parse abort the load;
// batch inputs are expected to be well-formed.
func LoadDir(dir string) ([]*PUT, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read source directory %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		return nil, fmt.Errorf("no Go source files in %s", dir)
	}

	puts := make([]*PUT, 0, len(names))
	for _, name := range names {
		p, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		puts = append(puts, p)
	}
	return puts, nil
}
