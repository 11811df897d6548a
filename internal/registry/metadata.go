package registry

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path"
	"strings"

	"github.com/nocapro/tool-generation-protocol-sub000/internal/kernelerr"
)

// Metadata is the deterministic projection of a tool file's source onto
// {name, description, path} (§3). It has no independent lifecycle: it is
// always recomputed by ExtractMetadata, never hand-edited.
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Path        string `json:"path"`
}

// ExtractMetadata parses source with go/parser — a real syntactic parser,
// as §4.3 requires, since a regex scan over doc comments would false-
// positive inside string literals and template bodies.
func ExtractMetadata(toolPath, source string) (Metadata, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, toolPath, source, parser.ParseComments)
	if err != nil {
		return Metadata{}, kernelerr.Wrap(kernelerr.CompileError, err, "parse %s", toolPath)
	}

	var declDoc *ast.CommentGroup
	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok {
			declDoc = fn.Doc
			break
		}
		if gd, ok := decl.(*ast.GenDecl); ok && gd.Tok == token.VAR {
			declDoc = gd.Doc
			break
		}
	}

	desc := cleanDoc(declDoc)
	if desc == "" {
		desc = cleanDoc(file.Doc)
	}
	if desc == "" {
		desc = "No description provided."
	}

	return Metadata{
		Name:        toolName(toolPath),
		Description: desc,
		Path:        toolPath,
	}, nil
}

// toolName is the file base-name without extension (§3).
func toolName(toolPath string) string {
	base := path.Base(toolPath)
	return strings.TrimSuffix(base, path.Ext(base))
}

// cleanDoc implements §4.3's doc-comment cleaning rule. ast.CommentGroup's
// own Text() already strips comment delimiters; this strips each line's
// leading "*" and layers on the TGP-specific rules: drop @-tag lines,
// collapse to a single space-joined line.
func cleanDoc(cg *ast.CommentGroup) string {
	if cg == nil {
		return ""
	}
	var kept []string
	for _, line := range strings.Split(cg.Text(), "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimPrefix(line, "*"))
		if line == "" || strings.HasPrefix(line, "@") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, " ")
}
