// Package testutil holds test helpers that keep the package layering honest.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ModulePath is the module import path prefix.
const ModulePath = "foodlab"

// AssertNoDirectImports parses the non-test .go files in dir and fails when an
// import matches forbidden. Build tags are ignored.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden direct imports detected (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

// AdapterImportForbidden matches presentation, transport and command packages,
// none of which the record core may depend on.
func AdapterImportForbidden(path string) bool {
	return strings.HasPrefix(path, ModulePath+"/internal/adapters") ||
		strings.HasPrefix(path, ModulePath+"/cmd") ||
		strings.HasPrefix(path, ModulePath+"/internal/watch") ||
		strings.HasPrefix(path, ModulePath+"/internal/backup")
}

// TransportImportForbidden matches HTTP framework and browser packages.
func TransportImportForbidden(path string) bool {
	for _, p := range []string{"github.com/gin-gonic/", "github.com/gin-contrib/", "github.com/gorilla/websocket", "github.com/go-rod/"} {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Any combines predicates.
func Any(preds ...func(string) bool) func(string) bool {
	return func(path string) bool {
		for _, p := range preds {
			if p(path) {
				return true
			}
		}
		return false
	}
}

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range f.Imports {
			ip := strings.Trim(imp.Path.Value, "\"")
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}
