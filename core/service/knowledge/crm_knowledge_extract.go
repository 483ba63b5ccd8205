package knowledge

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"

	"crm_server/pkg/apperr"
)

// ExtractText pulls plain text out of an uploaded file by extension.
// PDF and DOCX get dedicated extractors; everything else is treated as text
// with charset sniffing.
func ExtractText(filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return extractPDF(data)
	case ".docx":
		return extractDOCX(data)
	case ".txt", ".md", ".csv", ".html", ".htm", "":
		return decodeText(data), nil
	default:
		return "", apperr.UnsupportedFile(ext)
	}
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single broken page should not sink the whole document.
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	result := strings.TrimSpace(sb.String())
	if result == "" {
		return "", fmt.Errorf("pdf contains no extractable text")
	}
	return result, nil
}

func extractDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open docx: %w", err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	content = stripXMLTags(content)

	result := strings.TrimSpace(content)
	if result == "" {
		return "", fmt.Errorf("docx contains no extractable text")
	}
	return result, nil
}

// decodeText sniffs the charset: valid UTF-8 passes through, otherwise try
// GB18030 (covers GBK/GB2312 supplier docs), otherwise fall back to Latin-1
// which never fails.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	if decoded, err := simplifiedchinese.GB18030.NewDecoder().Bytes(data); err == nil && utf8.Valid(decoded) {
		return string(decoded)
	}
	decoded, _ := charmap.ISO8859_1.NewDecoder().Bytes(data)
	return string(decoded)
}

// stripXMLTags removes residual WordprocessingML markup the docx library
// leaves in GetContent output.
func stripXMLTags(s string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			sb.WriteRune('\n')
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
