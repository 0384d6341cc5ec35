package tinkerpen

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"
)

// Export packages the buffers into a zip archive holding index.html,
// style.css and script.js with their contents unchanged.
func Export(src Sources) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteArchive(&buf, src); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteArchive streams the export archive to w.
func WriteArchive(w io.Writer, src Sources) error {
	zw := zip.NewWriter(w)
	modified := time.Now()

	for _, tab := range Tabs {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     tab.Filename(),
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			zw.Close()
			return fmt.Errorf("failed to add %s: %w", tab.Filename(), err)
		}
		if _, err := io.WriteString(fw, src.Get(tab)); err != nil {
			zw.Close()
			return fmt.Errorf("failed to write %s: %w", tab.Filename(), err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

// ReadArchive reads an archive produced by Export. Files other than the
// three buffers are ignored; missing buffers are left empty.
func ReadArchive(data []byte) (Sources, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Sources{}, fmt.Errorf("failed to open archive: %w", err)
	}

	var src Sources
	for _, f := range zr.File {
		var tab Tab
		switch f.Name {
		case TabHTML.Filename():
			tab = TabHTML
		case TabCSS.Filename():
			tab = TabCSS
		case TabJS.Filename():
			tab = TabJS
		default:
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return Sources{}, fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return Sources{}, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		src = src.With(tab, string(content))
	}
	return src, nil
}
