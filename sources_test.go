package tinkerpen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSourceSetReset(t *testing.T) {
	initial := Sources{HTML: "<b>hi</b>", JS: "go()"}
	set := NewSourceSet(initial)
	assert.False(t, set.Dirty())

	set.Set(TabHTML, "<i>changed</i>")
	set.Set(TabCSS, "b { color: red }")
	assert.True(t, set.Dirty())
	assert.Equal(t, "<i>changed</i>", set.Get(TabHTML))
	assert.Equal(t, initial, set.Initial(), "edits never touch the initial snapshot")

	set.Reset()
	assert.Equal(t, initial, set.Snapshot())
	assert.False(t, set.Dirty())

	set.Reset()
	assert.Equal(t, initial, set.Snapshot(), "reset is idempotent")
}

func TestNormalizeSnippet(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "console.log(1)", "console.log(1)"},
		{"newline", `a\nb`, "a\nb"},
		{"tab", `a\tb`, "a\tb"},
		{"quote", `say(\"hi\")`, `say("hi")`},
		{"newline before backslash", `a\\nb`, "a\\\nb"},
		{"escaped backslash", `c:\\\\dir`, `c:\\dir`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSnippet(tt.in))
		})
	}
}

func TestNormalizeSources(t *testing.T) {
	got := NormalizeSources(Sources{HTML: `<p>\n</p>`, CSS: `a {\n}`, JS: `x()\ny()`})
	assert.Equal(t, Sources{HTML: "<p>\n</p>", CSS: "a {\n}", JS: "x()\ny()"}, got)
}
