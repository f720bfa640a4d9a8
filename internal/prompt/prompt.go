// Package prompt builds the chat messages sent to the model. Keeping prompt
// construction here decouples it from the generation layer, so phrasing can
// be iterated on without touching business logic.
package prompt

import (
	"fmt"
	"strings"
)

// SystemPrompt pins the model to strict JSON output. Sent on every request.
const SystemPrompt = "You are a helpful assistant that ONLY responds with valid JSON. No extra text, no markdown."

// Style controls the verbosity / format of the user prompt sent to the model.
//
//   - StyleCompact: shortest prompt, just enough to elicit the worksheet JSON.
//   - StyleSchema: includes an explicit JSON shape example.
//   - StyleClassroom: adds narrative instructions for clearer question wording.
type Style int

const (
	StyleCompact Style = iota
	StyleSchema
	StyleClassroom
)

// ParseStyle maps a config string to a Style. Empty defaults to schema.
func ParseStyle(s string) (Style, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "schema":
		return StyleSchema, nil
	case "compact":
		return StyleCompact, nil
	case "classroom":
		return StyleClassroom, nil
	default:
		return 0, fmt.Errorf("unknown prompt style %q", s)
	}
}

// Request carries the parameters a worksheet prompt is built from.
type Request struct {
	Subject    string
	Topic      string
	Difficulty string // optional: elementary | middle | high
}

// Builder holds configuration for generating prompts.
type Builder struct {
	Style Style
	Model string // optional: model name for conditional phrasing
}

// Build returns the user prompt for the request based on the configured style.
func (b Builder) Build(req Request) string {
	audience := ""
	if req.Difficulty != "" {
		audience = fmt.Sprintf(" Target %s school level.", req.Difficulty)
	}

	switch b.Style {
	case StyleCompact:
		return fmt.Sprintf(
			"Generate a %s worksheet on %s as pure JSON: {\"worksheet\": [9 strings]} = title, 5 comprehension questions, 2 multiple choice questions (a-d), 1 cloze passage.%s",
			req.Subject, req.Topic, audience,
		)

	case StyleClassroom:
		return fmt.Sprintf(`You are an experienced %s teacher preparing a worksheet on %s.%s
Write clear, engaging, grammatically correct questions a student can answer without further context.
Respond in PURE JSON with EXACTLY 9 elements:
{
    "worksheet": [
        "%s Worksheet on %s",
        "First comprehension question about %s",
        "Second comprehension question about %s",
        "Third comprehension question about %s",
        "Fourth comprehension question about %s",
        "Fifth comprehension question about %s",
        "Multiple choice question 1 with a, b, c, d options",
        "Multiple choice question 2 with a, b, c, d options",
        "Cloze passage with blanks related to %s"
    ]
}
Do not include markdown, commentary, or answer keys.`,
			req.Subject, req.Topic, audience,
			req.Subject, req.Topic,
			req.Topic, req.Topic, req.Topic, req.Topic, req.Topic,
			req.Topic,
		)

	default: // StyleSchema
		return fmt.Sprintf(`Generate a worksheet in PURE JSON format with EXACTLY 9 elements.%s
Ensure clear, educational language for each question:
{
    "worksheet": [
        "%s Worksheet on %s",
        "First comprehension question about %s",
        "Second comprehension question about %s",
        "Third comprehension question about %s",
        "Fourth comprehension question about %s",
        "Fifth comprehension question about %s",
        "Multiple choice question 1 with a, b, c, d options",
        "Multiple choice question 2 with a, b, c, d options",
        "Cloze passage with blanks related to %s"
    ]
}`,
			audience,
			req.Subject, req.Topic,
			req.Topic, req.Topic, req.Topic, req.Topic, req.Topic,
			req.Topic,
		)
	}
}
