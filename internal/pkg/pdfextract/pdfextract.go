package pdfextract

import (
	"bytes"
	"io"

	"github.com/ledongthuc/pdf"
)

// ExtractText pulls the plain text out of a PDF so document memories can be
// indexed by content, not just filename. Scanned or image-only PDFs yield an
// empty string without error.
func ExtractText(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", nil
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	text, err := io.ReadAll(textReader)
	if err != nil {
		return "", err
	}
	return string(text), nil
}
