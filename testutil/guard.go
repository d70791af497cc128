// Package testutil provides helpers for tests that pin the package layering of
// the module: which packages may import which.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// Module is the import path prefix of this repository.
const Module = "roadcore"

// ImportsUnder returns a predicate matching import paths equal to or nested
// below any of the given module-relative directories, e.g. "internal/core".
func ImportsUnder(dirs ...string) func(string) bool {
	prefixes := make([]string, len(dirs))
	for i, d := range dirs {
		prefixes[i] = Module + "/" + strings.Trim(d, "/")
	}
	return func(path string) bool {
		for _, p := range prefixes {
			if path == p || strings.HasPrefix(path, p+"/") {
				return true
			}
		}
		return false
	}
}

// InternalImportForbidden matches any import of this module's internal tree.
func InternalImportForbidden(path string) bool {
	return ImportsUnder("internal")(path)
}

// DirectImports parses the non-test Go files in dir and maps each imported
// path to the files importing it.
func DirectImports(dir string) (map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	imports := make(map[string][]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			imports[path] = append(imports[path], name)
		}
	}
	return imports, nil
}

// AssertNoDirectImports fails t when a non-test file in dir imports a path
// matching forbidden.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(string) bool, reason string) {
	t.Helper()
	imports, err := DirectImports(dir)
	if err != nil {
		t.Fatalf("read %s: %v", dir, err)
	}
	if viols := violations(imports, forbidden); len(viols) > 0 {
		t.Fatalf("forbidden imports in %s (%s):\n%s", dir, reason, strings.Join(viols, "\n"))
	}
}

func violations(imports map[string][]string, forbidden func(string) bool) []string {
	var out []string
	for path, files := range imports {
		if forbidden(path) {
			out = append(out, path+" (in "+strings.Join(files, ", ")+")")
		}
	}
	sort.Strings(out)
	return out
}
