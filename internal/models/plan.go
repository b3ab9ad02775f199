package models

import (
	"fmt"
	"strings"
	"time"
)

type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
)

func (s StepStatus) rank() int {
	switch s {
	case StepStatusPending:
		return 0
	case StepStatusInProgress:
		return 1
	case StepStatusCompleted:
		return 2
	default:
		return -1
	}
}

func (s StepStatus) Valid() bool {
	return s.rank() >= 0
}

// CanTransitionTo reports whether next is strictly forward of s.
func (s StepStatus) CanTransitionTo(next StepStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next.rank() > s.rank()
}

func ParseStepStatus(v string) (StepStatus, error) {
	status := StepStatus(strings.ToLower(strings.TrimSpace(v)))
	switch status {
	case "done", "complete":
		status = StepStatusCompleted
	case "in-progress", "started", "active":
		status = StepStatusInProgress
	}
	if !status.Valid() {
		return "", fmt.Errorf("%w: unknown step status %q", ErrInvalidArguments, v)
	}
	return status, nil
}

type Step struct {
	Position    int        `json:"position"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	UpdatedAt   int64      `json:"updated_at"`
}

// Plan is the single active multi-step plan of a thread. Status is derived
// from the steps and is recomputed on every mutation.
type Plan struct {
	ThreadID  string     `json:"thread_id"`
	Task      string     `json:"task"`
	Steps     []*Step    `json:"steps"`
	Status    StepStatus `json:"status"`
	CreatedAt int64      `json:"created_at"`
	UpdatedAt int64      `json:"updated_at"`
}

func NewPlan(threadID, task string, descriptions []string) (*Plan, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, fmt.Errorf("%w: task must be provided", ErrInvalidArguments)
	}
	if len(descriptions) == 0 {
		return nil, fmt.Errorf("%w: at least one step must be provided", ErrInvalidArguments)
	}

	now := time.Now().UnixMilli()
	plan := &Plan{
		ThreadID:  threadID,
		Task:      task,
		Steps:     make([]*Step, 0, len(descriptions)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, d := range descriptions {
		d = strings.TrimSpace(d)
		if d == "" {
			return nil, fmt.Errorf("%w: step %d has an empty description", ErrInvalidArguments, i+1)
		}
		plan.Steps = append(plan.Steps, &Step{
			Position:    i + 1,
			Description: d,
			Status:      StepStatusPending,
			UpdatedAt:   now,
		})
	}
	plan.DeriveStatus()
	return plan, nil
}

// DeriveStatus sets Status from the steps: completed iff every step is
// completed, in_progress iff any step has left pending, pending otherwise.
func (p *Plan) DeriveStatus() StepStatus {
	if len(p.Steps) == 0 {
		p.Status = StepStatusPending
		return p.Status
	}

	allCompleted := true
	anyStarted := false
	for _, step := range p.Steps {
		if step.Status != StepStatusCompleted {
			allCompleted = false
		}
		if step.Status != StepStatusPending {
			anyStarted = true
		}
	}

	switch {
	case allCompleted:
		p.Status = StepStatusCompleted
	case anyStarted:
		p.Status = StepStatusInProgress
	default:
		p.Status = StepStatusPending
	}
	return p.Status
}

func (p *Plan) Step(position int) (*Step, error) {
	if position < 1 || position > len(p.Steps) {
		return nil, fmt.Errorf("%w: step %d (plan has %d steps)", ErrStepNotFound, position, len(p.Steps))
	}
	return p.Steps[position-1], nil
}

// UpdateStep moves a step forward. A rejected transition leaves the plan
// untouched.
func (p *Plan) UpdateStep(position int, next StepStatus, result string) error {
	step, err := p.Step(position)
	if err != nil {
		return err
	}
	if !next.Valid() {
		return fmt.Errorf("%w: unknown step status %q", ErrInvalidArguments, next)
	}
	if !step.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: step %d cannot move from %s to %s", ErrInvalidTransition, position, step.Status, next)
	}

	now := time.Now().UnixMilli()
	step.Status = next
	if result = strings.TrimSpace(result); result != "" {
		step.Result = result
	}
	step.UpdatedAt = now
	p.UpdatedAt = now
	p.DeriveStatus()
	return nil
}

// AddStep inserts a pending step. Position 0 appends; otherwise it must lie in
// [1, len+1] and later steps shift down by one.
func (p *Plan) AddStep(description string, position int) (*Step, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("%w: step description must be provided", ErrInvalidArguments)
	}
	if position == 0 {
		position = len(p.Steps) + 1
	}
	if position < 1 || position > len(p.Steps)+1 {
		return nil, fmt.Errorf("%w: position %d out of range 1..%d", ErrInvalidArguments, position, len(p.Steps)+1)
	}

	now := time.Now().UnixMilli()
	step := &Step{
		Description: description,
		Status:      StepStatusPending,
		UpdatedAt:   now,
	}

	idx := position - 1
	p.Steps = append(p.Steps, nil)
	copy(p.Steps[idx+1:], p.Steps[idx:])
	p.Steps[idx] = step
	for i, s := range p.Steps {
		s.Position = i + 1
	}

	p.UpdatedAt = now
	p.DeriveStatus()
	return step, nil
}

func (p *Plan) Progress() (completed, total int) {
	for _, step := range p.Steps {
		if step.Status == StepStatusCompleted {
			completed++
		}
	}
	return completed, len(p.Steps)
}
