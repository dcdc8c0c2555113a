package extract

import (
	"strings"
	"testing"

	"activity-rag/internal/apperr"
)

func TestDetectType(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		expected    FileType
		wantErr     bool
	}{
		{"pdf by content type", "report", "application/pdf", TypePDF, false},
		{"txt by content type with charset", "notes", "text/plain; charset=utf-8", TypeTXT, false},
		{"csv by extension", "grades.csv", "", TypeCSV, false},
		{"json by extension", "syllabus.json", "application/octet-stream", TypeJSON, false},
		{"uppercase extension", "LECTURE.PDF", "", TypePDF, false},
		{"executable rejected", "malware.exe", "", "", true},
		{"docx rejected", "essay.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "", true},
		{"no hints rejected", "mystery", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectType(tt.filename, tt.contentType)
			if tt.wantErr {
				if !apperr.IsKind(err, apperr.ErrInvalidInput) {
					t.Fatalf("expected invalid input error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestTextPlain(t *testing.T) {
	text, err := Text(TypeTXT, []byte("Newton's three laws of motion."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Newton's three laws of motion." {
		t.Errorf("unexpected text: %q", text)
	}
}

func TestTextPlainInvalidUTF8(t *testing.T) {
	_, err := Text(TypeTXT, []byte{0xff, 0xfe, 0xfd})
	if !apperr.IsKind(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestTextCSV(t *testing.T) {
	content := []byte("name,score\nalice,91\nbob,87\n")
	text, err := Text(TypeCSV, content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "alice, 91") {
		t.Errorf("expected row rendered as a line, got %q", text)
	}
	if lines := strings.Count(text, "\n"); lines != 3 {
		t.Errorf("expected 3 lines, got %d", lines)
	}
}

func TestTextCSVMalformed(t *testing.T) {
	_, err := Text(TypeCSV, []byte("a,\"unterminated\n"))
	if !apperr.IsKind(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestTextJSON(t *testing.T) {
	text, err := Text(TypeJSON, []byte(`{"topic":"energy","laws":["first","second"]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, `"topic": "energy"`) {
		t.Errorf("expected indented json, got %q", text)
	}
}

func TestTextJSONMalformed(t *testing.T) {
	_, err := Text(TypeJSON, []byte(`{"broken":`))
	if !apperr.IsKind(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestTextCorruptPDF(t *testing.T) {
	_, err := Text(TypePDF, []byte("definitely not a pdf"))
	if !apperr.IsKind(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}
