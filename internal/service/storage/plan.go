package storage

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/zjregee/deepthread/internal/models"
)

// PlanStore keeps the single active plan of each thread. Every mutation is a
// read-modify-write inside one bbolt write transaction, so concurrent updates
// of the same plan are serialized.
type PlanStore struct {
	db *DB
}

func NewPlanStore(db *DB) *PlanStore {
	return &PlanStore{db: db}
}

func loadPlan(b *bolt.Bucket, threadID string) (*models.Plan, error) {
	value := get(b, threadKey(threadID, kindPlan, ""))
	if len(value) == 0 {
		return nil, fmt.Errorf("plan for thread %s: %w", threadID, models.ErrNotFound)
	}

	var plan models.Plan
	if err := json.Unmarshal(value, &plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan for thread %s: %w", threadID, err)
	}
	plan.DeriveStatus()
	return &plan, nil
}

func savePlan(b *bolt.Bucket, plan *models.Plan) error {
	plan.DeriveStatus()
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan for thread %s: %w", plan.ThreadID, err)
	}
	return b.Put(threadKey(plan.ThreadID, kindPlan, ""), data)
}

// Create replaces whatever plan the thread had with a fresh one whose steps
// all start pending.
func (s *PlanStore) Create(threadID, task string, steps []string) (*models.Plan, error) {
	plan, err := models.NewPlan(threadID, task, steps)
	if err != nil {
		return nil, err
	}

	err = s.db.update(func(b *bolt.Bucket) error {
		if err := requireThread(b, threadID); err != nil {
			return err
		}
		return savePlan(b, plan)
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *PlanStore) Get(threadID string) (*models.Plan, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	var plan *models.Plan
	err := s.db.view(func(b *bolt.Bucket) error {
		var err error
		plan, err = loadPlan(b, threadID)
		return err
	})
	return plan, err
}

func (s *PlanStore) mutate(threadID string, fn func(plan *models.Plan) error) (*models.Plan, error) {
	var plan *models.Plan
	err := s.db.update(func(b *bolt.Bucket) error {
		if err := requireThread(b, threadID); err != nil {
			return err
		}
		var err error
		plan, err = loadPlan(b, threadID)
		if err != nil {
			return err
		}
		if err := fn(plan); err != nil {
			return err
		}
		return savePlan(b, plan)
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *PlanStore) UpdateStep(threadID string, position int, status models.StepStatus, result string) (*models.Plan, error) {
	return s.mutate(threadID, func(plan *models.Plan) error {
		return plan.UpdateStep(position, status, result)
	})
}

// AddStep appends the step when position is 0, otherwise inserts it there.
func (s *PlanStore) AddStep(threadID, description string, position int) (*models.Plan, error) {
	return s.mutate(threadID, func(plan *models.Plan) error {
		_, err := plan.AddStep(description, position)
		return err
	})
}

func (s *PlanStore) Clear(threadID string) error {
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}

	return s.db.update(func(b *bolt.Bucket) error {
		key := threadKey(threadID, kindPlan, "")
		if b.Get(key) == nil {
			return fmt.Errorf("plan for thread %s: %w", threadID, models.ErrNotFound)
		}
		return b.Delete(key)
	})
}
