package models

import "time"

// QuestionKind classifies a worksheet item.
type QuestionKind string

const (
	KindComprehension  QuestionKind = "comprehension"
	KindMultipleChoice QuestionKind = "multiple_choice"
	KindCloze          QuestionKind = "cloze"
)

// Question is a single worksheet item.
type Question struct {
	Number int          `json:"number"`
	Kind   QuestionKind `json:"kind"`
	Text   string       `json:"text"`
}

// Worksheet is a generated question set for a subject and topic.
// A complete worksheet carries exactly eight questions: five comprehension,
// two multiple choice, and one cloze passage, in that order.
type Worksheet struct {
	Subject     string     `json:"subject"`
	Topic       string     `json:"topic"`
	Difficulty  string     `json:"difficulty,omitempty"`
	Title       string     `json:"title"`
	Questions   []Question `json:"questions"`
	Model       string     `json:"model"`
	GeneratedAt time.Time  `json:"generatedAt"`
	Stale       bool       `json:"stale,omitempty"` // Indicates data served from stale cache
}
