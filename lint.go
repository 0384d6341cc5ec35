package tinkerpen

import (
	"errors"
	"fmt"

	"github.com/dop251/goja/parser"
)

// SyntaxError reports the first parse error in guest JavaScript.
type SyntaxError struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d:%d: %s", e.Line, e.Column, e.Message)
	}
	return e.Message
}

// Lint syntax-checks js. It returns nil or a *SyntaxError. Lint is advisory:
// runs never wait on it, and guest errors still surface through the
// console at run time.
func Lint(js string) error {
	_, err := parser.ParseFile(nil, "script.js", js, 0)
	if err == nil {
		return nil
	}

	var list parser.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		first := list[0]
		return &SyntaxError{
			Line:    first.Position.Line,
			Column:  first.Position.Column,
			Message: first.Message,
		}
	}

	var single *parser.Error
	if errors.As(err, &single) {
		return &SyntaxError{
			Line:    single.Position.Line,
			Column:  single.Position.Column,
			Message: single.Message,
		}
	}

	return &SyntaxError{Message: err.Error()}
}
