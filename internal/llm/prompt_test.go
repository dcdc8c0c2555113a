package llm

import (
	"strings"
	"testing"
)

func TestRenderSubstitutesVariables(t *testing.T) {
	out, err := Render(TemplateGroundedAnswer, map[string]string{"context": "chunk one\nchunk two"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "chunk one\nchunk two") {
		t.Error("expected context variable to be substituted")
	}
	if strings.Contains(out, "{context}") {
		t.Error("expected no unreplaced placeholders")
	}
}

func TestRenderIsPure(t *testing.T) {
	first, err := Render(TemplateCondense, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Render(TemplateCondense, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Error("expected identical output for identical input")
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	if _, err := Render("nope", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}
