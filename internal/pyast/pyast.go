// Package pyast wraps the tree-sitter Python grammar with the handful of
// queries the fixer needs: syntax errors, nested imports, loop nesting and
// calls to named builtins.
//
// Every function creates its own parser, so the package is safe for
// concurrent use.
package pyast

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// maxErrors caps how many syntax errors are collected from a malformed file.
const maxErrors = 50

// maxDepth bounds recursion on pathological input.
const maxDepth = 1000

// SyntaxError is a parse failure at a 1-based line and 0-based column.
type SyntaxError struct {
	Line    int
	Column  int
	Message string
}

func (e SyntaxError) String() string {
	return fmt.Sprintf("line %d, col %d: %s", e.Line, e.Column, e.Message)
}

// Span is a statement's location in the source.
type Span struct {
	StartByte uint32
	EndByte   uint32
	StartRow  int // 0-based
	EndRow    int // 0-based, inclusive
	Text      string

	// Block is the start byte of the enclosing block and BlockSize its
	// statement count; both are set for nested imports only.
	Block     uint32
	BlockSize int
}

// File is a parsed Python source.
type File struct {
	src  []byte
	tree *sitter.Tree
}

// Parse parses Python source. The returned File must be closed.
func Parse(ctx context.Context, src string) (*File, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	b := []byte(src)
	tree, err := parser.ParseCtx(ctx, nil, b)
	if err != nil {
		return nil, fmt.Errorf("parse python: %w", err)
	}
	return &File{src: b, tree: tree}, nil
}

// Close releases the underlying tree.
func (f *File) Close() {
	f.tree.Close()
}

func (f *File) root() *sitter.Node {
	return f.tree.RootNode()
}

// SyntaxErrors returns every ERROR or MISSING node in the tree, followed by
// the constructs the grammar accepts but the compiler rejects.
func (f *File) SyntaxErrors() []SyntaxError {
	errs := f.parseErrors()
	for _, e := range f.compileErrors() {
		if len(errs) >= maxErrors {
			break
		}
		errs = append(errs, e)
	}
	return errs
}

func (f *File) parseErrors() []SyntaxError {
	var errs []SyntaxError
	walk(f.root(), 0, func(n *sitter.Node) bool {
		if len(errs) >= maxErrors {
			return false
		}
		if !n.IsError() && !n.IsMissing() {
			return true
		}
		p := n.StartPoint()
		msg := "syntax error"
		if n.IsMissing() {
			msg = fmt.Sprintf("missing %s", n.Type())
		} else if text := strings.TrimSpace(n.Content(f.src)); text != "" {
			msg = fmt.Sprintf("unexpected %q", truncate(text, 40))
		}
		errs = append(errs, SyntaxError{Line: int(p.Row) + 1, Column: int(p.Column), Message: msg})
		return !n.IsMissing()
	})
	return errs
}

// compileErrors finds what tree-sitter's error-tolerant grammar lets
// through: empty suites, Python 2 statements, return/yield/break/continue
// in the wrong scope and misplaced __future__ imports.
func (f *File) compileErrors() []SyntaxError {
	var errs []SyntaxError
	at := func(n *sitter.Node, msg string) {
		p := n.StartPoint()
		errs = append(errs, SyntaxError{Line: int(p.Row) + 1, Column: int(p.Column), Message: msg})
	}

	walk(f.root(), 0, func(n *sitter.Node) bool {
		if !n.IsNamed() {
			return true
		}
		switch n.Type() {
		case "block":
			if statementCount(n) == 0 {
				header := n
				if p := n.Parent(); p != nil {
					header = p
				}
				at(header, "expected an indented block")
			}
		case "function_definition", "class_definition", "if_statement", "elif_clause", "else_clause",
			"for_statement", "while_statement", "with_statement", "try_statement":
			if !hasChild(n, "block") {
				at(n, "expected an indented block")
			}
		case "print_statement":
			// print (x) is also a Python 3 call.
			rest := strings.TrimSpace(strings.TrimPrefix(n.Content(f.src), "print"))
			if !strings.HasPrefix(rest, "(") {
				at(n, "Python 2 print statement")
			}
		case "exec_statement":
			at(n, "Python 2 exec statement")
		case "return_statement":
			if enclosingScope(n) != "function_definition" {
				at(n, "'return' outside function")
			}
		case "yield":
			if scope := enclosingScope(n); scope != "function_definition" && scope != "lambda" {
				at(n, "'yield' outside function")
			}
		case "break_statement", "continue_statement":
			if !insideLoop(n) {
				at(n, fmt.Sprintf("'%s' outside loop", strings.TrimSuffix(n.Type(), "_statement")))
			}
		case "future_import_statement":
			if p := n.Parent(); p == nil || p.Type() != "module" {
				at(n, "from __future__ imports must occur at the beginning of the file")
			}
		}
		return true
	})

	// Module level: only a docstring, comments and other __future__ imports
	// may precede a __future__ import.
	root := f.root()
	seenStatement, first := false, true
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch {
		case child.Type() == "comment":
			continue
		case first && isDocstring(child):
		case child.Type() == "future_import_statement":
			if seenStatement {
				at(child, "from __future__ imports must occur at the beginning of the file")
			}
		default:
			seenStatement = true
		}
		first = false
	}
	return errs
}

// enclosingScope returns the type of the nearest function, lambda or class
// around n, or "module".
func enclosingScope(n *sitter.Node) string {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if !p.IsNamed() {
			continue
		}
		switch p.Type() {
		case "function_definition", "class_definition", "lambda":
			return p.Type()
		}
	}
	return "module"
}

// insideLoop reports whether n sits in a loop body of its own scope.
func insideLoop(n *sitter.Node) bool {
	for p := n.Parent(); p != nil; p = p.Parent() {
		switch p.Type() {
		case "for_statement", "while_statement":
			return true
		case "function_definition", "class_definition":
			return false
		}
	}
	return false
}

func hasChild(n *sitter.Node, typ string) bool {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if n.NamedChild(i).Type() == typ {
			return true
		}
	}
	return false
}

func isDocstring(n *sitter.Node) bool {
	if n.Type() != "expression_statement" || n.NamedChildCount() != 1 {
		return false
	}
	t := n.NamedChild(0).Type()
	return t == "string" || t == "concatenated_string"
}

// PreambleEnd returns the 0-based row just past the module docstring and
// any __future__ imports, where new module-level statements may go. It is
// 0 when the module has neither.
func (f *File) PreambleEnd() int {
	end := 0
	root := f.root()
	first := true
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child.Type() == "comment" {
			continue
		}
		if (first && isDocstring(child)) || child.Type() == "future_import_statement" {
			end = int(child.EndPoint().Row) + 1
			first = false
			continue
		}
		return end
	}
	return end
}

// isImport reports whether a node is any form of import statement.
func isImport(n *sitter.Node) bool {
	switch n.Type() {
	case "import_statement", "import_from_statement", "future_import_statement":
		return true
	}
	return false
}

// NestedImports returns import statements that live inside a function body,
// in source order.
func (f *File) NestedImports() []Span {
	var spans []Span
	walk(f.root(), 0, func(n *sitter.Node) bool {
		if isImport(n) && hasAncestor(n, "function_definition") {
			sp := f.span(n)
			if p := n.Parent(); p != nil && p.Type() == "block" {
				sp.Block = p.StartByte()
				sp.BlockSize = statementCount(p)
			}
			spans = append(spans, sp)
			return false
		}
		return true
	})
	return spans
}

// TopLevelImports returns the module-level import statements in source order.
func (f *File) TopLevelImports() []Span {
	var spans []Span
	root := f.root()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if isImport(child) {
			spans = append(spans, f.span(child))
		}
	}
	return spans
}

// OuterNestedLoops returns loops that contain another loop and are not
// themselves inside a loop.
func (f *File) OuterNestedLoops() []Span {
	var spans []Span
	walk(f.root(), 0, func(n *sitter.Node) bool {
		if !isLoop(n) {
			return true
		}
		if containsLoop(n) {
			spans = append(spans, f.span(n))
		}
		return false
	})
	return spans
}

// CallsTo returns calls whose callee is a bare identifier in names.
func (f *File) CallsTo(names ...string) []Span {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var spans []Span
	walk(f.root(), 0, func(n *sitter.Node) bool {
		if n.Type() != "call" {
			return true
		}
		fn := n.ChildByFieldName("function")
		if fn != nil && fn.Type() == "identifier" && want[fn.Content(f.src)] {
			spans = append(spans, f.span(n))
		}
		return true
	})
	return spans
}

func (f *File) span(n *sitter.Node) Span {
	return Span{
		StartByte: n.StartByte(),
		EndByte:   n.EndByte(),
		StartRow:  int(n.StartPoint().Row),
		EndRow:    int(n.EndPoint().Row),
		Text:      n.Content(f.src),
	}
}

func isLoop(n *sitter.Node) bool {
	return n.Type() == "for_statement" || n.Type() == "while_statement"
}

func containsLoop(n *sitter.Node) bool {
	found := false
	for i := 0; i < int(n.NamedChildCount()) && !found; i++ {
		walk(n.NamedChild(i), 0, func(c *sitter.Node) bool {
			if found {
				return false
			}
			if isLoop(c) {
				found = true
				return false
			}
			// A loop inside a nested function body runs on its own schedule.
			return c.Type() != "function_definition"
		})
	}
	return found
}

// statementCount counts a block's named children, ignoring comments.
func statementCount(block *sitter.Node) int {
	count := 0
	for i := 0; i < int(block.NamedChildCount()); i++ {
		if block.NamedChild(i).Type() != "comment" {
			count++
		}
	}
	return count
}

func hasAncestor(n *sitter.Node, typ string) bool {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.Type() == typ {
			return true
		}
	}
	return false
}

// walk visits n and its descendants depth-first; visit returning false skips
// the node's children.
func walk(n *sitter.Node, depth int, visit func(*sitter.Node) bool) {
	if n == nil || depth > maxDepth {
		return
	}
	if !visit(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), depth+1, visit)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Check parses src and returns its syntax errors. A parser failure is
// reported as a single error at line 0.
func Check(ctx context.Context, src string) []SyntaxError {
	f, err := Parse(ctx, src)
	if err != nil {
		return []SyntaxError{{Message: err.Error()}}
	}
	defer f.Close()
	return f.SyntaxErrors()
}
