package planner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ShayCichocki/magentic/pkg/models"
)

var (
	numberedLine = regexp.MustCompile(`^\s*(\d+)[.)]\s+(.+)$`)
	agentHint    = regexp.MustCompile(`^\[([^\]]+)\]\s*`)
	afterClause  = regexp.MustCompile(`\s*\(after\s+([\d,\s and]+)\)\s*$`)
)

// ParsePlan reads a numbered list such as
//
//	1. [Researcher] Find the current release notes
//	2. [Coder] Write the upgrade script (after 1)
//
// Lines that are not numbered are ignored. Hints naming unknown agents are
// dropped, and dependencies on unknown or later steps are ignored.
func ParsePlan(text string, version int, agents []models.AgentDescriptor) *models.Plan {
	known := make(map[string]string, len(agents))
	for _, a := range agents {
		known[strings.ToLower(a.Name)] = a.Name
	}

	plan := &models.Plan{Version: version}
	index := map[int]string{}
	for _, line := range strings.Split(text, "\n") {
		m := numberedLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		body := strings.TrimSpace(m[2])

		goal := models.SubGoal{
			ID:     GoalID(version, len(plan.Goals)+1),
			Status: models.SubGoalPending,
		}
		if h := agentHint.FindStringSubmatch(body); h != nil {
			if name, ok := known[strings.ToLower(strings.TrimSpace(h[1]))]; ok {
				goal.AgentHint = name
			}
			body = body[len(h[0]):]
		}
		if d := afterClause.FindStringSubmatch(body); d != nil {
			for _, f := range strings.FieldsFunc(d[1], func(r rune) bool { return r == ',' || r == ' ' }) {
				n, err := strconv.Atoi(f)
				if err != nil {
					continue
				}
				if id, ok := index[n]; ok {
					goal.DependsOn = append(goal.DependsOn, id)
				}
			}
			body = body[:len(body)-len(d[0])]
		}
		goal.Description = strings.TrimSpace(body)
		if goal.Description == "" {
			continue
		}
		index[num] = goal.ID
		plan.Goals = append(plan.Goals, goal)
	}
	return plan
}

// FormatPlan renders a plan in the format ParsePlan reads, for ledger entries
// and replanning prompts.
func FormatPlan(p *models.Plan) string {
	if p == nil {
		return ""
	}
	pos := make(map[string]int, len(p.Goals))
	for i, g := range p.Goals {
		pos[g.ID] = i + 1
	}

	var b strings.Builder
	for i, g := range p.Goals {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		if g.AgentHint != "" {
			b.WriteString("[" + g.AgentHint + "] ")
		}
		b.WriteString(g.Description)
		if len(g.DependsOn) > 0 {
			deps := make([]string, 0, len(g.DependsOn))
			for _, d := range g.DependsOn {
				if n, ok := pos[d]; ok {
					deps = append(deps, strconv.Itoa(n))
				}
			}
			if len(deps) > 0 {
				b.WriteString(" (after " + strings.Join(deps, ", ") + ")")
			}
		}
		if g.Status == models.SubGoalDone {
			b.WriteString(" [done]")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
