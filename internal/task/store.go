package task

import (
	"strings"
	"sync"
	"time"

	"blockmind/internal/logging"
)

// HistoryEntry is a compact record of a task that reached a terminal state.
type HistoryEntry struct {
	TaskID     string    `json:"taskId"`
	Title      string    `json:"title"`
	Type       Type      `json:"type"`
	Status     Status    `json:"status"`
	FinishedAt time.Time `json:"finishedAt"`
	Reason     string    `json:"reason,omitempty"`
}

// SetOptions controls a single Set commit.
type SetOptions struct {
	// AllowUnfinalized suppresses the strict-finalize tripwire for bypass
	// paths that intentionally persist a task before finalization.
	AllowUnfinalized bool
	// HistoryReason annotates the history entry on terminal commits.
	HistoryReason string
}

// Filter selects tasks in GetTasks.
type Filter struct {
	Status Status
	Type   Type
	Source Source
	Limit  int
}

// Stats is a rollup of store contents.
type Stats struct {
	Total      int            `json:"total"`
	ByStatus   map[Status]int `json:"byStatus"`
	ByType     map[Type]int   `json:"byType"`
	HistoryLen int            `json:"historyLen"`
}

const defaultHistoryLimit = 100

// Store is the in-memory task store. Reads are reference-based: Get returns
// the live object, and callers mutate it in place before committing with Set.
// The writer lock around Set preserves the property that no reader observes a
// half-written task at the commit boundary.
type Store struct {
	mu sync.RWMutex

	tasks    map[string]*Task
	progress map[string]float64

	// Dedupe key reservations: a lightweight mutual-exclusion primitive
	// against concurrent duplicate creation.
	reserved map[string]bool
	// Digest index for sterling_ir tasks: dedupe key -> task id.
	dedupeIndex map[string]string

	history      []HistoryEntry
	historyLimit int

	// strictFinalize enables the tripwire warning when a new id is persisted
	// without metadata.origin.
	strictFinalize bool
}

// NewStore creates an empty task store.
func NewStore() *Store {
	return &Store{
		tasks:        make(map[string]*Task),
		progress:     make(map[string]float64),
		reserved:     make(map[string]bool),
		dedupeIndex:  make(map[string]string),
		historyLimit: defaultHistoryLimit,
	}
}

// SetStrictFinalize enables or disables the strict-finalize tripwire.
func (s *Store) SetStrictFinalize(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strictFinalize = on
}

// Set commits a task. It is the sole persistence boundary: callers mutate all
// fields on the in-memory object first, then invoke Set so multi-field changes
// (status + hold) land atomically.
func (s *Store) Set(t *Task, opts ...SetOptions) {
	var opt SetOptions
	if len(opts) > 0 {
		opt = opts[0]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.tasks[t.ID]

	if s.strictFinalize && !existed && t.Metadata.Origin == nil && !opt.AllowUnfinalized {
		logging.Get(logging.CategoryStore).StructuredLog("warn",
			"unfinalized task persisted with new id", map[string]interface{}{
				"taskId": t.ID,
				"type":   string(t.Type),
				"source": string(t.Source),
			})
	}

	t.UpdatedAt = time.Now()
	s.tasks[t.ID] = t
	s.progress[t.ID] = t.Progress

	if t.Type == TypeSterlingIR && t.Metadata.Sterling != nil && t.Metadata.Sterling.CommittedIRDigest != "" {
		s.dedupeIndex[sterlingDedupeKey(t.Metadata.Sterling)] = t.ID
	}

	if t.Status.IsTerminal() {
		s.history = append(s.history, HistoryEntry{
			TaskID:     t.ID,
			Title:      t.Title,
			Type:       t.Type,
			Status:     t.Status,
			FinishedAt: t.UpdatedAt,
			Reason:     opt.HistoryReason,
		})
		if len(s.history) > s.historyLimit {
			s.history = s.history[len(s.history)-s.historyLimit:]
		}
	}
}

// Get returns the live task object for id, or nil.
func (s *Store) Get(id string) *Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[id]
}

// Has reports whether the id exists.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tasks[id]
	return ok
}

// Delete removes a task and purges its progress entry. Returns false when the
// id does not exist.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	delete(s.tasks, id)
	delete(s.progress, id)
	if t.Type == TypeSterlingIR && t.Metadata.Sterling != nil && t.Metadata.Sterling.CommittedIRDigest != "" {
		key := sterlingDedupeKey(t.Metadata.Sterling)
		if s.dedupeIndex[key] == id {
			delete(s.dedupeIndex, key)
		}
	}
	return true
}

// GetAll returns all live tasks.
func (s *Store) GetAll() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

// GetTasks returns tasks matching the filter.
func (s *Store) GetTasks(f Filter) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Task
	for _, t := range s.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.Source != "" && t.Source != f.Source {
			continue
		}
		out = append(out, t)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Progress returns the recorded progress for a task id.
func (s *Store) Progress(id string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[id]
	return p, ok
}

// History returns a copy of the history ring, oldest first.
func (s *Store) History() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]HistoryEntry(nil), s.history...)
}

// ReserveDedupeKey reserves a dedupe key. Returns false when already reserved.
// Callers must release the key after the create attempt settles.
func (s *Store) ReserveDedupeKey(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved[key] {
		return false
	}
	s.reserved[key] = true
	return true
}

// ReleaseDedupeKey releases a previously reserved dedupe key.
func (s *Store) ReleaseDedupeKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reserved, key)
}

// FindByDedupeKey returns the task committed under the given dedupe key.
func (s *Store) FindByDedupeKey(key string) *Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.dedupeIndex[key]
	if !ok {
		return nil
	}
	return s.tasks[id]
}

// Stats returns rollup statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Total:      len(s.tasks),
		ByStatus:   make(map[Status]int),
		ByType:     make(map[Type]int),
		HistoryLen: len(s.history),
	}
	for _, t := range s.tasks {
		st.ByStatus[t.Status]++
		st.ByType[t.Type]++
	}
	return st
}

// SterlingDedupeKey derives the dedupe key for a sterling_ir task: the
// committed IR digest scoped by its dedupe namespace.
func SterlingDedupeKey(m *SterlingMeta) string {
	return sterlingDedupeKey(m)
}

func sterlingDedupeKey(m *SterlingMeta) string {
	ns := m.DedupeNamespace
	if ns == "" {
		ns = "default"
	}
	return ns + ":" + m.CommittedIRDigest
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}
