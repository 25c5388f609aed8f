package planner

import (
	"regexp"
	"strings"
	"unicode"
)

// Default bounds on normalized plan trees.
const (
	DefaultMaxDepth = 4
	DefaultMaxNodes = 40
)

// maxTitleLength is the word-boundary truncation limit for derived titles.
const maxTitleLength = 96

//nolint:gochecknoglobals // Package-level pattern tables for normalization
var (
	whitespaceRe = regexp.MustCompile(`\s+`)

	// Verification steps start with a run/verify/check verb combined with
	// test or coverage language, or carry a package-manager test command.
	verificationLeadRe = regexp.MustCompile(`^(run|verify|check|execute|re-run|rerun)\b`)
	verificationBodyRe = regexp.MustCompile(`\b(tests?|test suite|coverage|linting|linter)\b`)
	testCommandRe      = regexp.MustCompile(`\b(npm|pnpm|yarn|bun)( run)? test\b|\bgo test\b|\bpytest\b|\bcargo test\b`)

	politenessRe = regexp.MustCompile(`^(please|kindly|can you|could you|would you|i want you to|i need you to|i'd like you to|go ahead and)\s+`)

	nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

	compoundWordRe = regexp.MustCompile(`\b(and|with|plus|also|including)\b`)

	titleStopWords = map[string]bool{
		"a": true, "an": true, "the": true, "and": true, "or": true,
		"but": true, "nor": true, "for": true, "of": true, "on": true,
		"in": true, "to": true, "with": true, "at": true, "by": true,
		"from": true, "as": true, "via": true, "per": true,
	}
)

// NormalizeTree cleans a raw plan tree: trims prompts, drops empty nodes,
// folds programmatic verification steps into their parent level, folds
// exact sibling duplicates (keeping the first occurrence's node while
// preserving the duplicate's children), bounds depth and total node count,
// and derives titles where missing. The node budget is shared across the
// whole recursion, not per subtree. Idempotent on already-normalized trees.
func NormalizeTree(entries []*PlanNode, maxDepth, maxNodes int) []*PlanNode {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}
	budget := maxNodes
	return normalizeLevel(entries, 1, maxDepth, &budget)
}

func normalizeLevel(nodes []*PlanNode, depth, maxDepth int, budget *int) []*PlanNode {
	if depth > maxDepth || *budget <= 0 || len(nodes) == 0 {
		return nil
	}

	// Fold verification steps: the step itself carries no value once the
	// test gate enforces verification, so splice its children into this level.
	flat := make([]*PlanNode, 0, len(nodes))
	var flatten func(list []*PlanNode)
	flatten = func(list []*PlanNode) {
		for _, n := range list {
			if n == nil {
				continue
			}
			prompt := normalizePrompt(n.Prompt)
			if isVerificationStep(prompt) {
				flatten(n.Children)
				continue
			}
			flat = append(flat, &PlanNode{
				Prompt:   prompt,
				Title:    strings.TrimSpace(n.Title),
				Children: n.Children,
			})
		}
	}
	flatten(nodes)

	// Fold exact sibling duplicates, splicing the duplicate's children into
	// the kept node so no useful subtree is silently lost.
	seen := make(map[string]*PlanNode, len(flat))
	ordered := make([]*PlanNode, 0, len(flat))
	for _, n := range flat {
		if n.Prompt != "" {
			if kept, ok := seen[n.Prompt]; ok {
				kept.Children = append(kept.Children, n.Children...)
				continue
			}
			seen[n.Prompt] = n
		}
		ordered = append(ordered, n)
	}

	out := make([]*PlanNode, 0, len(ordered))
	for _, n := range ordered {
		if *budget <= 0 {
			break
		}
		*budget--
		children := normalizeLevel(n.Children, depth+1, maxDepth, budget)
		if n.Prompt == "" && len(children) == 0 {
			*budget++ // dropped, slot returned
			continue
		}
		out = append(out, &PlanNode{
			Prompt:   n.Prompt,
			Title:    titleFor(n),
			Children: children,
		})
	}
	return out
}

func normalizePrompt(prompt string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(prompt), " ")
}

func isVerificationStep(prompt string) bool {
	lower := strings.ToLower(prompt)
	if lower == "" {
		return false
	}
	if verificationLeadRe.MatchString(lower) && verificationBodyRe.MatchString(lower) {
		return true
	}
	return testCommandRe.MatchString(lower)
}

func titleFor(n *PlanNode) string {
	if n.Title != "" {
		return n.Title
	}
	return DeriveTitle(n.Prompt)
}

// DeriveTitle builds a human-readable title from a prompt: strips leading
// politeness phrases, trims surrounding quotes, collapses whitespace,
// truncates to 96 characters at a word boundary, and title-cases the
// result while preserving short all-caps acronyms and lower-casing stop
// words mid-title.
func DeriveTitle(prompt string) string {
	s := normalizePrompt(prompt)
	lower := strings.ToLower(s)
	for {
		loc := politenessRe.FindStringIndex(lower)
		if loc == nil {
			break
		}
		s = s[loc[1]:]
		lower = lower[loc[1]:]
	}
	s = strings.Trim(s, `"'`+"`")
	s = normalizePrompt(s)
	s = strings.TrimRight(s, ".!")

	if len(s) > maxTitleLength {
		cut := strings.LastIndex(s[:maxTitleLength], " ")
		if cut <= 0 {
			cut = maxTitleLength
		}
		s = strings.TrimRight(s[:cut], " ,;:")
	}

	return titleCase(s)
}

func titleCase(s string) string {
	words := strings.Split(s, " ")
	for i, word := range words {
		if word == "" {
			continue
		}
		if isAcronym(word) {
			continue
		}
		lower := strings.ToLower(word)
		if i > 0 && i < len(words)-1 && titleStopWords[lower] {
			words[i] = lower
			continue
		}
		runes := []rune(lower)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// isAcronym reports whether a word is a short all-caps token like API or
// HTTP that title casing should leave untouched.
func isAcronym(word string) bool {
	trimmed := strings.TrimRight(word, ".,;:")
	if len(trimmed) < 2 || len(trimmed) > 5 {
		return false
	}
	hasLetter := false
	for _, r := range trimmed {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		} else if !unicode.IsDigit(r) {
			return false
		}
	}
	return hasLetter
}

// NearDuplicate reports whether two prompts say essentially the same
// thing: after normalizing to lowercase alphanumeric tokens, one contains
// the other and the shorter/longer length ratio is at least 0.6.
func NearDuplicate(a, b string) bool {
	na := normalizeForComparison(a)
	nb := normalizeForComparison(b)
	if na == "" || nb == "" {
		return false
	}

	shorter, longer := na, nb
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if !strings.Contains(longer, shorter) {
		return false
	}
	return float64(len(shorter))/float64(len(longer)) >= 0.6
}

func normalizeForComparison(s string) string {
	lower := strings.ToLower(s)
	return strings.Trim(nonAlnumRe.ReplaceAllString(lower, " "), " ")
}

// IsCompound reports whether a prompt bundles multiple asks via
// conjunction markers.
func IsCompound(prompt string) bool {
	if strings.ContainsAny(prompt, ",;") {
		return true
	}
	return compoundWordRe.MatchString(strings.ToLower(prompt))
}

// FallbackPlan produces the heuristic identify -> build -> wire-up plan
// used when a generated plan is too low-information to act on.
func FallbackPlan(prompt string) []*PlanNode {
	subject := DeriveTitle(prompt)
	return []*PlanNode{
		{
			Prompt: "Identify the files and code paths involved in: " + subject,
			Title:  "Identify Affected Code",
		},
		{
			Prompt: "Implement the core change for: " + subject,
			Title:  "Implement Core Change",
		},
		{
			Prompt: "Wire up and integrate the change for: " + subject,
			Title:  "Wire up Integration",
		},
	}
}
