package mastery

import (
	"context"
	"slices"
	"sync"
)

// UpdateFunc computes the next record from the current one. exists is false
// when the pair has no record yet.
type UpdateFunc func(current Record, exists bool) Record

// Store persists mastery records.
type Store interface {
	// Update applies fn to the (student, knowledge point) record as one atomic
	// read-modify-write and stores the result.
	Update(ctx context.Context, studentID, knowledgePointID int64, fn UpdateFunc) (Record, error)
	// Get returns the record and whether it exists.
	Get(ctx context.Context, studentID, knowledgePointID int64) (Record, bool, error)
	// ListForStudent returns the student's records ordered by knowledge point id.
	ListForStudent(ctx context.Context, studentID int64) ([]Record, error)
}

type recordKey struct {
	student, knowledgePoint int64
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]Record
}

// NewMemoryStore creates an empty in-memory mastery store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]Record)}
}

func (s *MemoryStore) Update(_ context.Context, studentID, knowledgePointID int64, fn UpdateFunc) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{studentID, knowledgePointID}
	current, exists := s.records[key]
	if !exists {
		current = Record{StudentID: studentID, KnowledgePointID: knowledgePointID}
	}
	next := fn(current, exists)
	next.StudentID = studentID
	next.KnowledgePointID = knowledgePointID
	s.records[key] = next
	return next, nil
}

func (s *MemoryStore) Get(_ context.Context, studentID, knowledgePointID int64) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[recordKey{studentID, knowledgePointID}]
	return r, ok, nil
}

func (s *MemoryStore) ListForStudent(_ context.Context, studentID int64) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for key, r := range s.records {
		if key.student == studentID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Record) int {
		switch {
		case a.KnowledgePointID < b.KnowledgePointID:
			return -1
		case a.KnowledgePointID > b.KnowledgePointID:
			return 1
		}
		return 0
	})
	return out, nil
}
