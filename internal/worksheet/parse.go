package worksheet

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caseworks/worksheet-service/internal/models"
)

// A worksheet payload is exactly nine strings: the title followed by five
// comprehension questions, two multiple choice questions, and a cloze passage.
const payloadElements = 9

var (
	ErrBadPayload   = errors.New("completion is not valid worksheet JSON")
	ErrWrongCount   = errors.New("worksheet must have exactly 9 elements")
	ErrBlankElement = errors.New("worksheet contains a blank element")
)

// rawPayload is the wire shape the model is asked to produce.
type rawPayload struct {
	Worksheet []string `json:"worksheet"`
}

// Parse decodes a sanitized completion into a Worksheet. The decoder stops at
// the end of the first JSON value, so stray trailing braces left by \boxed{}
// repair do not fail the parse.
func Parse(cleaned, subject, topic, difficulty, model string) (models.Worksheet, error) {
	var payload rawPayload
	dec := json.NewDecoder(strings.NewReader(cleaned))
	if err := dec.Decode(&payload); err != nil {
		return models.Worksheet{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	if len(payload.Worksheet) != payloadElements {
		return models.Worksheet{}, fmt.Errorf("%w: got %d", ErrWrongCount, len(payload.Worksheet))
	}
	for i, el := range payload.Worksheet {
		if strings.TrimSpace(el) == "" {
			return models.Worksheet{}, fmt.Errorf("%w: element %d", ErrBlankElement, i)
		}
	}

	questions := make([]models.Question, 0, payloadElements-1)
	for i, text := range payload.Worksheet[1:] {
		questions = append(questions, models.Question{
			Number: i + 1,
			Kind:   kindForIndex(i),
			Text:   strings.TrimSpace(text),
		})
	}

	return models.Worksheet{
		Subject:     subject,
		Topic:       topic,
		Difficulty:  difficulty,
		Title:       strings.TrimSpace(payload.Worksheet[0]),
		Questions:   questions,
		Model:       model,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// kindForIndex maps a zero-based question index to its kind:
// 0-4 comprehension, 5-6 multiple choice, 7 cloze.
func kindForIndex(i int) models.QuestionKind {
	switch {
	case i < 5:
		return models.KindComprehension
	case i < 7:
		return models.KindMultipleChoice
	default:
		return models.KindCloze
	}
}
