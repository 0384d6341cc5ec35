package tinkerpen

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"log", LevelLog},
		{"warn", LevelWarn},
		{"ERROR", LevelError},
		{"info", LevelLog},
		{"debug", LevelLog},
		{"", LevelLog},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestFormatArgs(t *testing.T) {
	tests := []struct {
		name string
		args []any
		want string
	}{
		{"empty", nil, ""},
		{"single", []any{"hi"}, "hi"},
		{"mixed", []any{"n =", 3, true}, "n = 3 true"},
		{"null", []any{nil}, "null"},
		{"error", []any{errors.New("boom")}, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatArgs(tt.args))
		})
	}
}

func TestConsoleLogOrder(t *testing.T) {
	log := NewConsoleLog(0)
	log.Append(ConsoleEntry{Level: LevelLog, Message: "a"})
	log.Append(ConsoleEntry{Level: LevelError, Message: "b"})
	log.Append(ConsoleEntry{Level: LevelLog, Message: "c"})

	assert.Equal(t, []ConsoleEntry{
		{Level: LevelLog, Message: "a"},
		{Level: LevelError, Message: "b"},
		{Level: LevelLog, Message: "c"},
	}, log.Entries())

	entries := log.Entries()
	entries[0].Message = "mutated"
	assert.Equal(t, "a", log.Entries()[0].Message, "Entries returns a copy")

	log.Clear()
	assert.Zero(t, log.Len())
	assert.Empty(t, log.Entries())
}

func TestConsoleLogCap(t *testing.T) {
	log := NewConsoleLog(2)
	for _, m := range []string{"1", "2", "3"} {
		log.Append(ConsoleEntry{Level: LevelLog, Message: m})
	}
	assert.Equal(t, []ConsoleEntry{
		{Level: LevelLog, Message: "2"},
		{Level: LevelLog, Message: "3"},
	}, log.Entries())
}

func TestConsoleLogSubscribe(t *testing.T) {
	log := NewConsoleLog(0)
	log.Append(ConsoleEntry{Level: LevelLog, Message: "before"})

	var got []string
	log.Subscribe(func(e ConsoleEntry) { got = append(got, e.Message) })
	log.Append(ConsoleEntry{Level: LevelWarn, Message: "after"})

	assert.Equal(t, []string{"after"}, got)
}
