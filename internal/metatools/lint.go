package metatools

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"
)

// Numeric and entropy thresholds for the numeric-literal-allowlist and
// no-high-entropy-strings predicates (§4's linter rule set expansion).
const (
	numericLiteralMax = 1e9
	numericLiteralMin = -1e9
	entropyThreshold  = 4.0
	entropyMinLength  = 12
)

// Lint runs the six named predicates over source, parsed with go/parser
// rather than regex — the same real-syntactic-parser requirement §4.3
// places on metadata extraction applies here (never regex over source
// text, which false-positives inside string literals).
func Lint(path, source string) CheckResult {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, source, parser.ParseComments)
	if err != nil {
		return CheckResult{Valid: false, Errors: []string{fmt.Sprintf("parse error: %v", err)}}
	}

	var errs []string

	ast.Inspect(file, func(n ast.Node) bool {
		switch node := n.(type) {
		case *ast.CallExpr:
			if id, ok := node.Fun.(*ast.Ident); ok && id.Name == "eval" {
				errs = append(errs, "no-dynamic-eval: eval is forbidden")
			}
		case *ast.SelectorExpr:
			if id, ok := node.X.(*ast.Ident); ok {
				if id.Name == "os" && (node.Sel.Name == "Exit" || node.Sel.Name == "Environ") {
					errs = append(errs, fmt.Sprintf("no-process-globals: os.%s is forbidden", node.Sel.Name))
				}
				if id.Name == "syscall" {
					errs = append(errs, fmt.Sprintf("no-process-globals: syscall.%s is forbidden", node.Sel.Name))
				}
			}
		case *ast.FuncDecl:
			if node.Name.Name == "Run" && node.Type.Params != nil {
				for _, param := range node.Type.Params.List {
					if isAnyType(param.Type) {
						errs = append(errs, "no-any-top-type: entry point parameter must not be a bare any/interface{}")
					}
				}
			}
		case *ast.BasicLit:
			switch node.Kind {
			case token.INT:
				if v, err := strconv.ParseInt(node.Value, 0, 64); err == nil {
					if float64(v) > numericLiteralMax || float64(v) < numericLiteralMin {
						errs = append(errs, fmt.Sprintf("numeric-literal-allowlist: %s is outside [-1e9, 1e9]", node.Value))
					}
				}
			case token.STRING:
				if unquoted, err := strconv.Unquote(node.Value); err == nil {
					if len(unquoted) >= entropyMinLength && shannonEntropy(unquoted) > entropyThreshold {
						errs = append(errs, "no-high-entropy-strings: possible embedded secret")
					}
				}
			}
		}
		return true
	})

	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Body == nil {
			continue
		}
		if hasCall(fn.Body, "panic") && !hasCall(fn.Body, "recover") {
			errs = append(errs, fmt.Sprintf("no-panic-without-recover: %s panics without a recover", fn.Name.Name))
		}
	}

	return CheckResult{Valid: len(errs) == 0, Errors: errs}
}

func isAnyType(expr ast.Expr) bool {
	switch t := expr.(type) {
	case *ast.InterfaceType:
		return t.Methods == nil || len(t.Methods.List) == 0
	case *ast.Ident:
		return t.Name == "any"
	}
	return false
}

func hasCall(body *ast.BlockStmt, name string) bool {
	found := false
	ast.Inspect(body, func(n ast.Node) bool {
		if call, ok := n.(*ast.CallExpr); ok {
			if id, ok := call.Fun.(*ast.Ident); ok && id.Name == name {
				found = true
			}
		}
		return true
	})
	return found
}

// shannonEntropy measures bits of entropy per character, a cheap proxy
// for "looks like a secret or token" distinguishable from ordinary
// English or identifier-like strings.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := map[rune]int{}
	for _, r := range s {
		counts[r]++
	}
	n := float64(len(s))
	var entropy float64
	for _, c := range counts {
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}
