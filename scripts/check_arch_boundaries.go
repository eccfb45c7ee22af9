package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var allowed = map[string]map[string]bool{
	"cli": {
		"config":   true,
		"engine":   true,
		"jobstore": true,
		"logging":  true,
		"model":    true,
		"selector": true,
	},
	"engine": {
		"assemble": true,
		"config":   true,
		"fetch":    true,
		"jobstore": true,
		"logging":  true,
		"manifest": true,
		"model":    true,
		"mux":      true,
		"selector": true,
	},
	"fetch": {
		"config":   true,
		"jobstore": true,
		"logging":  true,
		"model":    true,
	},
	"mux": {
		"config":   true,
		"jobstore": true,
		"logging":  true,
		"model":    true,
	},
	"assemble": {
		"jobstore": true,
		"model":    true,
	},
	"selector": {
		"manifest": true,
		"model":    true,
	},
	"manifest": {
		"model": true,
	},
	"jobstore": {
		"model": true,
	},
	"config":  {},
	"logging": {},
	"model":   {},
}

// Binaries under cmd/ only talk to the CLI layer.
var cmdAllowed = map[string]bool{"cli": true}

func main() {
	var violations []string
	for _, root := range []string{"internal", "cmd"} {
		found, err := checkTree(root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "boundary walk of %s failed: %v\n", root, err)
			os.Exit(1)
		}
		violations = append(violations, found...)
	}

	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "architecture boundary violations detected:")
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "- %s\n", v)
		}
		os.Exit(1)
	}
	fmt.Println("architecture boundary check: OK")
}

// checkTree parses the imports of every non-test file under root.
func checkTree(root string) ([]string, error) {
	var violations []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		src, allowMap, known := rulesFor(path)
		if src == "" {
			return nil
		}
		if !known {
			violations = append(violations, fmt.Sprintf("%s: unknown source package %q", path, src))
			return nil
		}

		file, err := parser.ParseFile(token.NewFileSet(), path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		for _, imp := range file.Imports {
			tgt, ok := targetPackage(strings.Trim(imp.Path.Value, "\""))
			if !ok || tgt == src {
				continue
			}
			if !allowMap[tgt] {
				violations = append(violations, fmt.Sprintf("%s: %s -> %s is forbidden", path, src, tgt))
			}
		}
		return nil
	})
	return violations, err
}

func rulesFor(path string) (string, map[string]bool, bool) {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) < 3 {
		return "", nil, false
	}
	switch parts[0] {
	case "internal":
		m, ok := allowed[parts[1]]
		return parts[1], m, ok
	case "cmd":
		return "cmd/" + parts[1], cmdAllowed, true
	}
	return "", nil, false
}

func targetPackage(importPath string) (string, bool) {
	rest, ok := strings.CutPrefix(importPath, "mediafetch/internal/")
	if !ok || rest == "" {
		return "", false
	}
	pkg, _, _ := strings.Cut(rest, "/")
	return pkg, true
}
