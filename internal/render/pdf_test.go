package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/caseworks/worksheet-service/internal/models"
)

func sampleWorksheet() models.Worksheet {
	return models.Worksheet{
		Subject:    "math",
		Topic:      "fractions",
		Difficulty: "elementary",
		Title:      "Mathematics Worksheet on Fractions",
		Questions: []models.Question{
			{Number: 1, Kind: models.KindComprehension, Text: "What is a fraction?"},
			{Number: 2, Kind: models.KindComprehension, Text: "Explain the numerator."},
			{Number: 3, Kind: models.KindComprehension, Text: "Explain the denominator."},
			{Number: 4, Kind: models.KindComprehension, Text: "How do you simplify 4/8?"},
			{Number: 5, Kind: models.KindComprehension, Text: "Add 1/4 and 2/4."},
			{Number: 6, Kind: models.KindMultipleChoice, Text: "Which fraction equals one half? a) 2/4 b) 1/3 c) 3/4 d) 2/3"},
			{Number: 7, Kind: models.KindMultipleChoice, Text: "Which is largest? a) 1/2 b) 1/3 c) 1/4 d) 1/5"},
			{Number: 8, Kind: models.KindCloze, Text: "A fraction has a ___ on top and a ___ on the bottom."},
		},
		Model:       "test-model",
		GeneratedAt: time.Now(),
	}
}

func TestRender_ProducesPDF(t *testing.T) {
	renderer := NewPDFRenderer(DefaultConfig())

	var buf bytes.Buffer
	if err := renderer.Render(sampleWorksheet(), &buf); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	if buf.Len() == 0 {
		t.Fatal("expected non-empty output")
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
		t.Errorf("output does not start with %%PDF header, got %q", buf.Bytes()[:8])
	}
}

func TestRender_EmptyQuestions(t *testing.T) {
	renderer := NewPDFRenderer(DefaultConfig())

	ws := sampleWorksheet()
	ws.Questions = nil

	var buf bytes.Buffer
	if err := renderer.Render(ws, &buf); err != nil {
		t.Fatalf("Render failed for worksheet without questions: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
		t.Error("output is not a PDF document")
	}
}

func TestNewPDFRenderer_FillsZeroConfig(t *testing.T) {
	renderer := NewPDFRenderer(Config{})

	if renderer.cfg.PageSize != "A4" {
		t.Errorf("expected default page size A4, got %q", renderer.cfg.PageSize)
	}
	if renderer.cfg.FontFamily != "Helvetica" {
		t.Errorf("expected default font Helvetica, got %q", renderer.cfg.FontFamily)
	}
	if renderer.cfg.AnswerLines != 3 {
		t.Errorf("expected default answer lines 3, got %d", renderer.cfg.AnswerLines)
	}

	var buf bytes.Buffer
	if err := renderer.Render(sampleWorksheet(), &buf); err != nil {
		t.Fatalf("Render with defaulted config failed: %v", err)
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{
			name:  "simple title",
			title: "Mathematics Worksheet on Fractions",
			want:  "mathematics-worksheet-on-fractions.pdf",
		},
		{
			name:  "punctuation collapsed",
			title: "Fractions: Practice!",
			want:  "fractions-practice.pdf",
		},
		{
			name:  "leading and trailing noise trimmed",
			title: "  --The Water Cycle--  ",
			want:  "the-water-cycle.pdf",
		},
		{
			name:  "empty title falls back",
			title: "",
			want:  "worksheet.pdf",
		},
		{
			name:  "only symbols falls back",
			title: "***",
			want:  "worksheet.pdf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Filename(tt.title); got != tt.want {
				t.Errorf("Filename(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

func TestFilename_AlwaysSafe(t *testing.T) {
	got := Filename("Célèbre / Français ~ 100%")
	if strings.ContainsAny(got, "/\\ %~") {
		t.Errorf("filename contains unsafe characters: %q", got)
	}
	if !strings.HasSuffix(got, ".pdf") {
		t.Errorf("filename missing .pdf extension: %q", got)
	}
}
