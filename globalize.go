package tinkerpen

import (
	"regexp"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	"github.com/dop251/goja/token"
)

// Inline attribute handlers such as onclick="greet()" run in the frame's
// global scope, while the guest script is wrapped in a try block that
// scopes its declarations. Globalize re-exports top-level declarations on
// window so those handlers can reach them.

var (
	functionDeclPattern = regexp.MustCompile(`function\s+([A-Za-z_$][\w$]*)\s*\(`)
	constArrowPattern   = regexp.MustCompile(`const\s+([A-Za-z_$][\w$]*)\s*=\s*\(`)
)

// Globalize appends a window.<name> = <name>; binding for every top-level
// function declaration and const-bound arrow function in js.
func Globalize(js string) string {
	names, _ := exportedNames(js)
	if len(names) == 0 {
		return js
	}

	var b strings.Builder
	b.WriteString(js)
	b.WriteString("\n")
	for _, name := range names {
		b.WriteString("window.")
		b.WriteString(name)
		b.WriteString(" = ")
		b.WriteString(name)
		b.WriteString(";\n")
	}
	return b.String()
}

// Exports returns the names Globalize would bind, in source order.
func Exports(js string) []string {
	names, _ := exportedNames(js)
	return names
}

// exportedNames walks the parsed program when js is valid. Sources that do
// not parse fall back to the textual heuristic, which also matches inside
// strings and comments, misses let/var arrows and anonymous forms, and
// repeats names for nested declarations.
func exportedNames(js string) ([]string, bool) {
	program, err := parser.ParseFile(nil, "", js, 0)
	if err != nil {
		return heuristicNames(js), false
	}

	var names []string
	seen := make(map[string]bool)
	add := func(id *ast.Identifier) {
		if id == nil {
			return
		}
		name := id.Name.String()
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}

	for _, stmt := range program.Body {
		switch s := stmt.(type) {
		case *ast.FunctionDeclaration:
			if s.Function != nil {
				add(s.Function.Name)
			}
		case *ast.LexicalDeclaration:
			if s.Token != token.CONST {
				continue
			}
			for _, binding := range s.List {
				id, ok := binding.Target.(*ast.Identifier)
				if !ok {
					continue
				}
				switch binding.Initializer.(type) {
				case *ast.ArrowFunctionLiteral, *ast.FunctionLiteral:
					add(id)
				}
			}
		}
	}
	return names, true
}

func heuristicNames(js string) []string {
	var names []string
	for _, m := range functionDeclPattern.FindAllStringSubmatch(js, -1) {
		names = append(names, m[1])
	}
	for _, m := range constArrowPattern.FindAllStringSubmatch(js, -1) {
		names = append(names, m[1])
	}
	return names
}
