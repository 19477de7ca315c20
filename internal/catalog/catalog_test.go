package catalog

import (
	"errors"
	"testing"
)

func fullChoices() map[string]string {
	return map[string]string{"A": "a", "B": "b", "C": "c", "D": "d", "E": "e"}
}

func TestValidateQuestions(t *testing.T) {
	q := func(ordinal int, correct string) Question {
		return Question{Ordinal: ordinal, Correct: correct, Choices: fullChoices()}
	}
	withChoices := func(base Question, choices map[string]string) Question {
		base.Choices = choices
		return base
	}

	tests := []struct {
		name      string
		questions []Question
		wantErr   bool
	}{
		{name: "dense", questions: []Question{q(1, "A"), q(2, "b"), q(3, "E")}},
		{name: "empty", questions: nil},
		{name: "gap after second", questions: []Question{q(1, "A"), q(2, "B"), q(4, "D")}, wantErr: true},
		{name: "starts at two", questions: []Question{q(2, "A")}, wantErr: true},
		{name: "duplicate ordinal", questions: []Question{q(1, "A"), q(1, "B")}, wantErr: true},
		{name: "bad key", questions: []Question{q(1, "F")}, wantErr: true},
		{name: "four choices", questions: []Question{withChoices(q(1, "A"), map[string]string{"A": "", "B": "", "C": "", "D": ""})}, wantErr: true},
		{name: "wrong label", questions: []Question{withChoices(q(1, "A"), map[string]string{"A": "", "B": "", "C": "", "D": "", "F": ""})}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateQuestions(1, tc.questions)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidTemplate) {
					t.Fatalf("expected ErrInvalidTemplate, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
