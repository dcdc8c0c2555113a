package extract

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"activity-rag/internal/apperr"
)

// FileType enumerates the document formats accepted at the upload boundary.
type FileType string

const (
	TypePDF  FileType = "pdf"
	TypeTXT  FileType = "txt"
	TypeCSV  FileType = "csv"
	TypeJSON FileType = "json"
)

var contentTypes = map[string]FileType{
	"application/pdf":  TypePDF,
	"text/plain":       TypeTXT,
	"text/csv":         TypeCSV,
	"application/json": TypeJSON,
}

var extensions = map[string]FileType{
	".pdf":  TypePDF,
	".txt":  TypeTXT,
	".csv":  TypeCSV,
	".json": TypeJSON,
}

// DetectType resolves the file type from the declared Content-Type, falling
// back to the filename extension. Anything else is rejected with InvalidInput
// before a document row exists.
func DetectType(filename, contentType string) (FileType, error) {
	if t, ok := contentTypes[normalizeContentType(contentType)]; ok {
		return t, nil
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if t, ok := extensions[ext]; ok {
		return t, nil
	}
	return "", apperr.New(apperr.ErrInvalidInput, "unsupported file type %q (allowed: pdf, txt, csv, json)", ext)
}

func normalizeContentType(ct string) string {
	// Strip parameters like "; charset=utf-8".
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.TrimSpace(strings.ToLower(ct))
}

// Text extracts plain text from raw file bytes according to the file type.
// Extraction failures mean the bytes do not match the declared format.
func Text(fileType FileType, content []byte) (string, error) {
	switch fileType {
	case TypePDF:
		return pdfText(content)
	case TypeTXT:
		if !utf8.Valid(content) {
			return "", apperr.New(apperr.ErrInvalidInput, "text file is not valid UTF-8")
		}
		return string(content), nil
	case TypeCSV:
		return csvText(content)
	case TypeJSON:
		return jsonText(content)
	default:
		return "", apperr.New(apperr.ErrInvalidInput, "unsupported file type %q", fileType)
	}
}

func pdfText(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", apperr.Wrap(apperr.ErrInvalidInput, "corrupt pdf", err)
	}

	var builder strings.Builder
	numPages := reader.NumPage()
	for pageNum := 1; pageNum <= numPages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() || page.V.Key("Contents").Kind() == pdf.Null {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

// csvText renders each record as a comma-joined line so row context survives
// chunking.
func csvText(content []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1

	var builder strings.Builder
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", apperr.Wrap(apperr.ErrInvalidInput, "malformed csv", err)
		}
		builder.WriteString(strings.Join(record, ", "))
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

// jsonText pretty-prints the document so nested values land on their own
// lines and chunk on structural boundaries.
func jsonText(content []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, content, "", "  "); err != nil {
		return "", apperr.Wrap(apperr.ErrInvalidInput, "malformed json", err)
	}
	return buf.String(), nil
}
