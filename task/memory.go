package task

import (
	"sort"
	"sync"
	"time"

	"github.com/vinayprograms/browserbridge/browser"
)

// Listing bounds.
const (
	DefaultPerPage = 100
	MaxPerPage     = 1000
)

// MemoryStore is an in-memory Store implementation guarded by a RWMutex.
// All reads return deep copies so callers can never mutate shared state.
// Agent handles live in a side table so releasing one never disturbs the
// task record.
type MemoryStore struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	agents map[string]browser.Agent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:  make(map[string]*Task),
		agents: make(map[string]browser.Agent),
	}
}

// locked lookup helper. Callers hold at least a read lock.
func (s *MemoryStore) find(id, owner string) (*Task, bool) {
	t, ok := s.tasks[id]
	if !ok || t.Owner != owner {
		return nil, false
	}
	return t, true
}

// Create stores a new task.
func (s *MemoryStore) Create(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; ok {
		return ErrTaskExists
	}
	s.tasks[t.ID] = t.Clone()
	return nil
}

// Get retrieves a task by ID and owner.
func (s *MemoryStore) Get(id, owner string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.find(id, owner)
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

// Exists reports whether the task exists for this owner.
func (s *MemoryStore) Exists(id, owner string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.find(id, owner)
	return ok
}

// UpdateStatus sets the task status.
func (s *MemoryStore) UpdateStatus(id, owner string, status Status) error {
	return s.Update(id, owner, func(t *Task) {
		t.Status = status
	})
}

// MarkFinished sets the terminal status and stamps FinishedAt once.
func (s *MemoryStore) MarkFinished(id, owner string, status Status) error {
	now := time.Now().UTC()
	return s.Update(id, owner, func(t *Task) {
		t.Status = status
		if t.FinishedAt == nil {
			t.FinishedAt = &now
		}
	})
}

// SetOutput records the final result.
func (s *MemoryStore) SetOutput(id, owner, output string) error {
	return s.Update(id, owner, func(t *Task) {
		t.Output = &output
	})
}

// SetError records the failure reason.
func (s *MemoryStore) SetError(id, owner, message string) error {
	return s.Update(id, owner, func(t *Task) {
		t.Error = &message
	})
}

// Update applies an arbitrary mutation under the store lock.
func (s *MemoryStore) Update(id, owner string, fn func(*Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.find(id, owner)
	if !ok {
		return ErrTaskNotFound
	}
	fn(t)
	return nil
}

// AppendStep appends a progress marker and returns its number.
func (s *MemoryStore) AppendStep(id, owner, nextGoal, evaluation string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.find(id, owner)
	if !ok {
		return 0, ErrTaskNotFound
	}
	number := t.LastStepNumber() + 1
	t.Steps = append(t.Steps, Step{
		Number:                 number,
		Timestamp:              time.Now().UTC(),
		NextGoal:               nextGoal,
		EvaluationPreviousGoal: evaluation,
	})
	return number, nil
}

// AppendMedia appends a media entry.
func (s *MemoryStore) AppendMedia(id, owner string, m MediaEntry) error {
	return s.Update(id, owner, func(t *Task) {
		t.Media = append(t.Media, m)
	})
}

// List returns one owner-scoped page, newest first. Out-of-range pages
// return an empty page rather than an error.
func (s *MemoryStore) List(owner string, page, perPage int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var owned []*Task
	for _, t := range s.tasks {
		if t.Owner == owner {
			owned = append(owned, t)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID < owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	total := len(owned)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	tasks := make([]*Task, 0, end-start)
	for _, t := range owned[start:end] {
		tasks = append(tasks, t.Clone())
	}
	return &Page{Tasks: tasks, Total: total, Page: page, PerPage: perPage}, nil
}

// All returns every task across owners, for the shutdown sweep.
func (s *MemoryStore) All() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		all = append(all, t.Clone())
	}
	return all
}

// SetAgent registers the live agent handle for a task.
func (s *MemoryStore) SetAgent(id, owner string, agent browser.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.find(id, owner); !ok {
		return ErrTaskNotFound
	}
	s.agents[id] = agent
	return nil
}

// Agent returns the live agent handle, or nil if none is registered.
func (s *MemoryStore) Agent(id, owner string) browser.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.find(id, owner); !ok {
		return nil
	}
	return s.agents[id]
}

// RemoveAgent deregisters the agent handle.
func (s *MemoryStore) RemoveAgent(id, owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.find(id, owner); ok {
		delete(s.agents, id)
	}
}
