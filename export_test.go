package tinkerpen

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportRoundTrip(t *testing.T) {
	src := Sources{
		HTML: "<p>héllo</p>\n",
		CSS:  "p::after { content: \"\\2713\"; }",
		JS:   "console.log(`multi\nline`)\r\n",
	}

	data, err := Export(src)
	require.NoError(t, err)

	got, err := ReadArchive(data)
	require.NoError(t, err)
	assert.Equal(t, src, got, "contents survive byte for byte")
}

func TestExportLayout(t *testing.T) {
	data, err := Export(Sources{JS: "x()"})
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"index.html", "style.css", "script.js"}, names, "empty buffers are still exported")
}

func TestReadArchiveIgnoresOtherFiles(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"script.js":  "go()",
		"README.md":  "# notes",
		"extra/a.js": "ignored()",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	got, err := ReadArchive(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, Sources{JS: "go()"}, got)
}

func TestReadArchiveInvalid(t *testing.T) {
	_, err := ReadArchive([]byte("not a zip"))
	assert.ErrorContains(t, err, "failed to open archive")
}
