package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// MemoryStore serves templates from memory. It backs local development and
// tests, usually filled from a YAML fixture via LoadYAML.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[int64]ExamTemplate
	questions map[int64][]Question
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[int64]ExamTemplate),
		questions: make(map[int64][]Question),
	}
}

// Put replaces the template and its questions. QuestionCount is taken from
// the question list.
func (m *MemoryStore) Put(t ExamTemplate, questions []Question) error {
	qs := append([]Question(nil), questions...)
	sort.Slice(qs, func(i, j int) bool { return qs[i].Ordinal < qs[j].Ordinal })
	if err := ValidateQuestions(t.ID, qs); err != nil {
		return err
	}
	for i := range qs {
		qs[i].ExamID = t.ID
		qs[i].Correct = NormalizeLabel(qs[i].Correct)
	}
	t.QuestionCount = len(qs)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID] = t
	m.questions[t.ID] = qs
	return nil
}

func (m *MemoryStore) GetTemplate(ctx context.Context, examID int64) (*ExamTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[examID]
	if !ok || !t.Visible {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *MemoryStore) GetQuestions(ctx context.Context, examID int64) ([]Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[examID]
	if !ok || !t.Visible {
		return nil, ErrNotFound
	}
	out := make([]Question, len(m.questions[examID]))
	copy(out, m.questions[examID])
	return out, nil
}

type yamlFixture struct {
	Exams []yamlExam `yaml:"exams"`
}

type yamlExam struct {
	ID              int64          `yaml:"id"`
	Title           string         `yaml:"title"`
	DurationMinutes int            `yaml:"duration_minutes"`
	MaxAttempts     int            `yaml:"max_attempts"`
	Visible         *bool          `yaml:"visible"`
	Questions       []yamlQuestion `yaml:"questions"`
}

type yamlQuestion struct {
	Ordinal     int               `yaml:"ordinal"`
	Prompt      string            `yaml:"text"`
	Choices     map[string]string `yaml:"choices"`
	Correct     string            `yaml:"correct"`
	Explanation string            `yaml:"explanation"`
}

// ParseYAML builds a MemoryStore from fixture bytes.
func ParseYAML(data []byte) (*MemoryStore, error) {
	var fx yamlFixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("decode exam fixture: %w", err)
	}

	store := NewMemoryStore()
	for _, e := range fx.Exams {
		if e.ID <= 0 {
			return nil, fmt.Errorf("exam fixture: id must be positive, got %d", e.ID)
		}
		if e.DurationMinutes <= 0 || e.MaxAttempts <= 0 {
			return nil, fmt.Errorf("exam %d: duration_minutes and max_attempts must be positive", e.ID)
		}
		visible := true
		if e.Visible != nil {
			visible = *e.Visible
		}
		qs := make([]Question, 0, len(e.Questions))
		for _, q := range e.Questions {
			choices := make(map[string]string, len(Labels))
			for k, v := range q.Choices {
				choices[NormalizeLabel(k)] = v
			}
			qs = append(qs, Question{
				Ordinal:     q.Ordinal,
				Prompt:      q.Prompt,
				Choices:     choices,
				Correct:     q.Correct,
				Explanation: q.Explanation,
			})
		}
		err := store.Put(ExamTemplate{
			ID:              e.ID,
			Title:           e.Title,
			DurationMinutes: e.DurationMinutes,
			MaxAttempts:     e.MaxAttempts,
			Visible:         visible,
		}, qs)
		if err != nil {
			return nil, err
		}
	}
	return store, nil
}

func LoadYAML(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read exam fixture: %w", err)
	}
	return ParseYAML(data)
}
