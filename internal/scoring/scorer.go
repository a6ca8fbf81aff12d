// Package scoring turns a dispatched turn's response into a numeric score
// per the task's declared ScoringMethod. Every function here is pure: no
// I/O, no shared state, so the competition controller can call it inline on
// its own goroutine without synchronization.
package scoring

import (
	"github.com/ocx/backend/internal/core"
	"github.com/ocx/backend/internal/dispatch"
)

// Score computes a turn's score given its task declaration and dispatch
// result. A non-OK TurnResult always scores zero — there is nothing to
// grade if the agent didn't answer within the deadline.
func Score(task *core.Task, result *dispatch.TurnResult, elapsedSec float64) float64 {
	if result == nil || result.Kind != core.TurnOK || result.Response == nil {
		return 0
	}

	switch task.ScoringMethod {
	case core.ScoreByTime:
		return scoreByTime(task, elapsedSec)
	case core.ScoreByAccuracy:
		return scoreByAccuracy(task, result.Response)
	case core.ScoreByMultiCriteria:
		return scoreByMultiCriteria(task, result.Response)
	default:
		return 0
	}
}

// scoreByTime rewards speed: full marks at elapsedSec == 0, zero marks at
// or beyond the task's time limit, linear in between.
func scoreByTime(task *core.Task, elapsedSec float64) float64 {
	if task.TimeLimitSec <= 0 {
		return 0
	}
	limit := float64(task.TimeLimitSec)
	if elapsedSec <= 0 {
		return task.MaxScore
	}
	if elapsedSec >= limit {
		return 0
	}
	fraction := (limit - elapsedSec) / limit
	return task.MaxScore * fraction
}

// scoreByAccuracy rewards the proportion of the task's required fields the
// agent's response matched, capped at 1.0 even if the agent over-reports.
func scoreByAccuracy(task *core.Task, resp *dispatch.TurnResponse) float64 {
	if task.RequiredFields <= 0 {
		return 0
	}
	fraction := float64(resp.MatchedFields) / float64(task.RequiredFields)
	if fraction > 1 {
		fraction = 1
	}
	if fraction < 0 {
		fraction = 0
	}
	return task.MaxScore * fraction
}

// scoreByMultiCriteria is a weighted sum over the task's declared criteria:
// each criterion the response's CriteriaMet map marks true contributes its
// full weight; weights are normalized by their declared total so a task
// author doesn't need its criteria to sum to exactly 1.0.
func scoreByMultiCriteria(task *core.Task, resp *dispatch.TurnResponse) float64 {
	if len(task.Criteria) == 0 {
		return 0
	}

	var totalWeight, earnedWeight float64
	for _, c := range task.Criteria {
		totalWeight += c.Weight
		if resp.CriteriaMet != nil && resp.CriteriaMet[c.Name] {
			earnedWeight += c.Weight
		}
	}
	if totalWeight <= 0 {
		return 0
	}
	return task.MaxScore * (earnedWeight / totalWeight)
}
