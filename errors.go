package tinkerpen

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrClosed is returned by operations on a closed Playground.
	ErrClosed = errors.New("playground closed")
	// ErrUnknownTab is returned for a buffer name other than html, css or js.
	ErrUnknownTab = errors.New("unknown tab")
)

// LessonError describes a problem in a lesson file with enough context to
// point the author at the offending line.
type LessonError struct {
	File    string // Source file path
	Line    int    // Line number (1-indexed)
	Message string // Error message
	Source  string // Lesson content, used to show surrounding lines
	Hint    string // Helpful suggestion
}

// Error implements the error interface.
func (e *LessonError) Error() string {
	return e.Format()
}

// Format renders the error with up to two lines of context on each side.
func (e *LessonError) Format() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Error in %s\n\n", e.File))
	b.WriteString(fmt.Sprintf("Line %d: %s\n", e.Line, e.Message))

	if context := e.codeContext(); context != "" {
		b.WriteString(context)
	}

	if e.Hint != "" {
		b.WriteString(fmt.Sprintf("\nTip: %s\n", e.Hint))
	}

	return b.String()
}

func (e *LessonError) codeContext() string {
	if e.Source == "" {
		return ""
	}

	lines := strings.Split(e.Source, "\n")
	if e.Line < 1 || e.Line > len(lines) {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	start := max(1, e.Line-2)
	end := min(len(lines), e.Line+2)
	for i := start; i <= end; i++ {
		marker := "  "
		if i == e.Line {
			marker = "> "
		}
		b.WriteString(fmt.Sprintf("%s%3d | %s\n", marker, i, lines[i-1]))
	}

	return b.String()
}

// NewLessonError creates a LessonError.
func NewLessonError(file string, line int, message string) *LessonError {
	return &LessonError{
		File:    file,
		Line:    line,
		Message: message,
	}
}

// WithSource attaches the lesson content for context rendering.
func (e *LessonError) WithSource(source string) *LessonError {
	e.Source = source
	return e
}

// WithHint adds a helpful hint to the error.
func (e *LessonError) WithHint(hint string) *LessonError {
	e.Hint = hint
	return e
}
