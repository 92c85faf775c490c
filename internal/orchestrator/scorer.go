package orchestrator

import (
	"strings"
	"unicode"

	"github.com/ShayCichocki/magentic/pkg/models"
)

// Scorer rates how well an agent fits a sub-goal. Higher is better.
// Scorers must be deterministic for a given input.
type Scorer func(goal models.SubGoal, agent models.AgentDescriptor) float64

// HintBonus is added when a sub-goal's agent hint names the agent.
const HintBonus = 1000

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "into": true,
	"is": true, "it": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "this": true, "to": true, "with": true, "you": true, "your": true,
}

// Keywords returns the distinct lowercased content words of s.
func Keywords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// wordsMatch treats words as equal when they are identical or one is a prefix
// of the other and both are at least four letters ("research", "researcher").
func wordsMatch(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) < 4 || len(b) < 4 {
		return false
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// KeywordScorer counts the sub-goal keywords that match a keyword of the
// agent's name or capability summary.
func KeywordScorer(goal models.SubGoal, agent models.AgentDescriptor) float64 {
	score := 0.0
	if goal.AgentHint != "" && strings.EqualFold(goal.AgentHint, agent.Name) {
		score += HintBonus
	}

	agentWords := Keywords(agent.Name + " " + agent.Capability)
	for _, w := range Keywords(goal.Description) {
		for _, aw := range agentWords {
			if wordsMatch(w, aw) {
				score++
				break
			}
		}
	}
	return score
}
