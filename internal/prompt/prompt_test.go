package prompt

import (
	"strings"
	"testing"
)

func TestParseStyle(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Style
		wantErr bool
	}{
		{"empty defaults to schema", "", StyleSchema, false},
		{"schema", "schema", StyleSchema, false},
		{"compact", "compact", StyleCompact, false},
		{"classroom", "classroom", StyleClassroom, false},
		{"case insensitive", "  Schema ", StyleSchema, false},
		{"unknown", "verbose", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseStyle(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatal("ParseStyle() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStyle() error = %v, want nil", err)
			}
			if got != tc.want {
				t.Errorf("ParseStyle() = %v, want %v", got, tc.want)
			}
		})
	}
}

// TestBuilder_Build_ContainsRequest verifies that every style embeds the
// subject and topic and asks for the nine-element JSON shape.
func TestBuilder_Build_ContainsRequest(t *testing.T) {
	req := Request{Subject: "science", Topic: "photosynthesis"}
	for _, style := range []Style{StyleCompact, StyleSchema, StyleClassroom} {
		b := Builder{Style: style}
		got := b.Build(req)
		if !strings.Contains(got, "science") {
			t.Errorf("style %v: prompt missing subject: %q", style, got)
		}
		if !strings.Contains(got, "photosynthesis") {
			t.Errorf("style %v: prompt missing topic: %q", style, got)
		}
		if !strings.Contains(got, "9") {
			t.Errorf("style %v: prompt does not pin element count", style)
		}
		if !strings.Contains(strings.ToLower(got), "json") {
			t.Errorf("style %v: prompt does not ask for JSON", style)
		}
	}
}

// TestBuilder_Build_Difficulty verifies that difficulty produces an audience
// hint and its absence leaves the prompt audience-free.
func TestBuilder_Build_Difficulty(t *testing.T) {
	b := Builder{Style: StyleSchema}

	with := b.Build(Request{Subject: "math", Topic: "fractions", Difficulty: "elementary"})
	if !strings.Contains(with, "elementary school level") {
		t.Errorf("prompt missing difficulty hint: %q", with)
	}

	without := b.Build(Request{Subject: "math", Topic: "fractions"})
	if strings.Contains(without, "school level") {
		t.Errorf("prompt has audience hint without difficulty: %q", without)
	}
}

// TestBuilder_Build_SchemaShape verifies the schema style includes the
// worksheet JSON skeleton the model is asked to mirror.
func TestBuilder_Build_SchemaShape(t *testing.T) {
	b := Builder{Style: StyleSchema}
	got := b.Build(Request{Subject: "history", Topic: "the roman empire"})
	if !strings.Contains(got, `"worksheet": [`) {
		t.Errorf("schema prompt missing worksheet array skeleton: %q", got)
	}
	if !strings.Contains(got, "a, b, c, d") {
		t.Errorf("schema prompt missing multiple choice options hint: %q", got)
	}
	if !strings.Contains(got, "Cloze passage") {
		t.Errorf("schema prompt missing cloze element: %q", got)
	}
}

func TestSystemPrompt_PinsJSON(t *testing.T) {
	if !strings.Contains(SystemPrompt, "JSON") {
		t.Error("system prompt does not pin JSON output")
	}
	if !strings.Contains(SystemPrompt, "no markdown") {
		t.Error("system prompt does not forbid markdown")
	}
}
