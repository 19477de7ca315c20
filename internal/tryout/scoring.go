package tryout

import (
	"math"

	"github.com/gunjou/api-ukai-syndrome/internal/catalog"
)

// GradeJournal scores a journal against the answer keys, where keys[i] is the
// correct label of ordinal i+1. Journal entries beyond the key list are
// ignored; missing entries count as blank.
func GradeJournal(keys []string, journal []JournalEntry) ScoreBreakdown {
	byOrdinal := make(map[int]JournalEntry, len(journal))
	for _, e := range journal {
		byOrdinal[e.Ordinal] = e
	}

	out := ScoreBreakdown{Total: len(keys)}
	for i, key := range keys {
		entry := byOrdinal[i+1]
		if entry.Uncertain {
			out.Uncertain++
		}

		selected := catalog.NormalizeLabel(entry.Selected)
		switch {
		case selected == "":
			out.Blank++
		case selected == catalog.NormalizeLabel(key):
			out.Correct++
		default:
			out.Incorrect++
		}
	}

	out.Score = normalizedScore(out.Correct, out.Total)
	return out
}

func normalizedScore(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return roundScore(float64(correct) / float64(total) * 100)
}

func roundScore(v float64) float64 {
	return math.Round(v*100) / 100
}

func answerKeys(questions []catalog.Question) []string {
	keys := make([]string, len(questions))
	for i, q := range questions {
		keys[i] = q.Correct
	}
	return keys
}
