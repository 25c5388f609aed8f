package planner

import (
	"regexp"
	"strings"
)

//nolint:gochecknoglobals // Package-level pattern tables for extraction
var (
	criteriaHeaderRe = regexp.MustCompile(`(?i)^\s*(acceptance criteria|ac)\s*:\s*(.*)$`)
	bulletRe         = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.*)$`)
	sectionHeaderRe  = regexp.MustCompile(`^\s*[A-Za-z][A-Za-z0-9 /_-]{0,40}:\s*$`)

	genericAskRe = regexp.MustCompile(`(?i)^(please\s+)?(build|make|create|add|implement|write)\s+(me\s+)?(a|an|some|something)\b`)
	bugWordRe    = regexp.MustCompile(`(?i)\b(fix|bug|broken|error|issue|crash(es|ed|ing)?)\b`)
	reproWordRe  = regexp.MustCompile(`(?i)\b(expected|actual(ly)?|repro(duce|duction)?|steps to)\b`)
)

// Clarifying question texts attached to goals whose prompts need more
// information before execution can start.
const (
	QuestionDoneCriteria = `What does "done" look like for this goal? Please list the acceptance criteria.`
	QuestionBugBehavior  = "What is the expected behavior, what actually happens, and how can the problem be reproduced?"
)

// ExtractAcceptanceCriteria scans prompt text for an "Acceptance Criteria:"
// or "AC:" header and collects the bullet lines that follow it, stopping at
// a blank line (once criteria have been collected) or the next section
// header. Returns a deduplicated ordered list.
func ExtractAcceptanceCriteria(text string) []string {
	var criteria []string
	seen := make(map[string]bool)
	add := func(item string) {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			return
		}
		seen[item] = true
		criteria = append(criteria, item)
	}

	collecting := false
	for _, line := range strings.Split(text, "\n") {
		if !collecting {
			if m := criteriaHeaderRe.FindStringSubmatch(line); m != nil {
				collecting = true
				add(m[2]) // inline criterion on the header line itself
			}
			continue
		}

		if strings.TrimSpace(line) == "" {
			if len(criteria) > 0 {
				break
			}
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			add(m[1])
			continue
		}
		if sectionHeaderRe.MatchString(line) {
			break
		}
	}

	return criteria
}

// ExtractClarifyingQuestions derives clarification needs from a prompt.
// Prompts that already carry acceptance criteria need no clarification.
// Otherwise a "done criteria" question is generated for very short or
// generic build-something prompts, and an expected-vs-actual question for
// bug-report prompts that lack reproduction context.
func ExtractClarifyingQuestions(text string) []string {
	if len(ExtractAcceptanceCriteria(text)) > 0 {
		return nil
	}

	var questions []string

	trimmed := strings.TrimSpace(text)
	if len(strings.Fields(trimmed)) < 3 || genericAskRe.MatchString(trimmed) {
		questions = append(questions, QuestionDoneCriteria)
	}

	if bugWordRe.MatchString(trimmed) && !reproWordRe.MatchString(trimmed) {
		questions = append(questions, QuestionBugBehavior)
	}

	return questions
}
