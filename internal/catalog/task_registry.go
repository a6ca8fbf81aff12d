package catalog

import (
	"fmt"
	"log"
	"sync"

	"github.com/ocx/backend/internal/core"
)

// TaskRegistry is the catalogue of task stages a competition can run:
// system/task prompts, scoring method, time limit, and (for accuracy or
// multi-criteria scoring) the declared matching fields and weighted
// criteria. Competitions reference tasks by ID; the registry is the single
// source of truth the scheduler consults to build each turn's payload.
type TaskRegistry struct {
	mu     sync.RWMutex
	tasks  map[string]*core.Task
	logger *log.Logger
}

// NewTaskRegistry creates an empty registry and seeds it with the bundled
// starter tasks, mirroring the teacher catalog's registerDefaults pattern.
func NewTaskRegistry() *TaskRegistry {
	r := &TaskRegistry{
		tasks:  make(map[string]*core.Task),
		logger: log.New(log.Writer(), "[CATALOG] ", log.LstdFlags),
	}
	r.registerDefaults()
	return r
}

func (r *TaskRegistry) registerDefaults() {
	defaults := []*core.Task{
		{
			ID:            "speedrun-arithmetic",
			SystemPrompt:  "You are a competitive agent. Answer as fast and correctly as possible.",
			TaskPrompt:    "Compute the result of the given arithmetic expression and respond with only the number.",
			ScoringMethod: core.ScoreByTime,
			MaxScore:      100,
			TimeLimitSec:  30,
		},
		{
			ID:             "structured-extraction",
			SystemPrompt:   "You are a precise data-extraction agent.",
			TaskPrompt:     "Extract the requested fields from the document and return them as JSON.",
			ScoringMethod:  core.ScoreByAccuracy,
			MaxScore:       100,
			TimeLimitSec:   60,
			RequiredFields: 5,
		},
		{
			ID:            "research-brief",
			SystemPrompt:  "You are a research agent producing a balanced, well-sourced brief.",
			TaskPrompt:    "Produce a short brief on the given topic, covering accuracy, clarity and depth.",
			ScoringMethod: core.ScoreByMultiCriteria,
			MaxScore:      100,
			TimeLimitSec:  120,
			Criteria: []core.Criterion{
				{Name: "accuracy", Weight: 0.5},
				{Name: "clarity", Weight: 0.3},
				{Name: "depth", Weight: 0.2},
			},
		},
	}

	for _, t := range defaults {
		r.tasks[t.ID] = t
	}
}

// Register adds or replaces a task definition.
func (r *TaskRegistry) Register(task *core.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if task.ID == "" {
		return core.ErrValidation("task id is required")
	}
	if err := validateTask(task); err != nil {
		return err
	}

	r.tasks[task.ID] = task
	r.logger.Printf("registered task: %s (%s)", task.ID, task.ScoringMethod)
	return nil
}

func validateTask(task *core.Task) error {
	switch task.ScoringMethod {
	case core.ScoreByTime, core.ScoreByAccuracy, core.ScoreByMultiCriteria:
	default:
		return core.ErrValidation("task %q: unknown scoring method %q", task.ID, task.ScoringMethod)
	}
	if task.ScoringMethod == core.ScoreByAccuracy && task.RequiredFields <= 0 {
		return core.ErrValidation("task %q: accuracy scoring requires RequiredFields > 0", task.ID)
	}
	if task.ScoringMethod == core.ScoreByMultiCriteria {
		if len(task.Criteria) == 0 {
			return core.ErrValidation("task %q: multi-criteria scoring requires at least one criterion", task.ID)
		}
		var total float64
		for _, c := range task.Criteria {
			total += c.Weight
		}
		if total <= 0 {
			return core.ErrValidation("task %q: criteria weights must sum to a positive value", task.ID)
		}
	}
	if task.TimeLimitSec <= 0 {
		return core.ErrValidation("task %q: time limit must be positive", task.ID)
	}
	return nil
}

// Get retrieves a task by ID.
func (r *TaskRegistry) Get(id string) (*core.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, core.ErrNotFound("task %q not found", id)
	}
	return task, nil
}

// MustResolveAll looks up every id in ids, returning an error naming the
// first missing task. Used to validate a competition's TaskIDs at start.
func (r *TaskRegistry) MustResolveAll(ids []string) ([]*core.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]*core.Task, 0, len(ids))
	for _, id := range ids {
		task, ok := r.tasks[id]
		if !ok {
			return nil, core.ErrNotFound("task %q not found", id)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// List returns every registered task.
func (r *TaskRegistry) List() []*core.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*core.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	return out
}

// Delete removes a task definition.
func (r *TaskRegistry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return fmt.Errorf("task %q not found", id)
	}
	delete(r.tasks, id)
	return nil
}

// Count returns the number of registered tasks.
func (r *TaskRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
