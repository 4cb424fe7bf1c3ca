package task

import (
	"reflect"
	"strings"
)

// FindSimilar returns an existing task that duplicates the given partial, or
// nil. Dedup rules, in order:
//
//  1. sterling_ir tasks: same committed IR digest within the same namespace.
//  2. Same title (case-insensitive) and same status.
//  3. Same type and source with at least 70% title-word overlap.
//  4. Equivalent resolved requirement metadata.
func (s *Store) FindSimilar(partial *Task) *Task {
	if partial.Type == TypeSterlingIR {
		if partial.Metadata.Sterling == nil || partial.Metadata.Sterling.CommittedIRDigest == "" {
			return nil
		}
		return s.FindByDedupeKey(sterlingDedupeKey(partial.Metadata.Sterling))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	title := normalizeTitle(partial.Title)
	words := titleWords(partial.Title)

	for _, t := range s.tasks {
		if t.ID == partial.ID {
			continue
		}
		if t.Status.IsTerminal() {
			continue
		}

		if title != "" && normalizeTitle(t.Title) == title && t.Status == partial.Status {
			return t
		}

		if t.Type == partial.Type && t.Source == partial.Source {
			if titleOverlap(words, titleWords(t.Title)) >= 0.7 {
				return t
			}
		}

		if partial.Metadata.Requirement != nil && t.Metadata.Requirement != nil {
			if reflect.DeepEqual(partial.Metadata.Requirement, t.Metadata.Requirement) {
				return t
			}
		}
	}
	return nil
}

func titleWords(title string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(title)) {
		words[w] = true
	}
	return words
}

// titleOverlap returns the fraction of words in a that also appear in b,
// measured against the smaller set. Empty sets never overlap.
func titleOverlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	shared := 0
	for w := range small {
		if large[w] {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}
