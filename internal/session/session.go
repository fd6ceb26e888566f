package session

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/OFFIS-RIT/stagegraph/pkg/common"
	"github.com/OFFIS-RIT/stagegraph/pkg/graph"
	"github.com/OFFIS-RIT/stagegraph/pkg/summary"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrNotFound  = errors.New("session not found")
	ErrForbidden = errors.New("session belongs to another user")
)

// Session is one run through the seven stages. It owns its graph; nothing
// is shared between sessions.
type Session struct {
	ID        string
	OwnerID   string
	CreatedAt time.Time
	Graph     *graph.Graph

	mu      sync.RWMutex
	records map[int]common.StageRecord
	qa      map[int][]summary.Pair
}

// Info is the JSON view of a session.
type Info struct {
	ID        string      `json:"id"`
	OwnerID   string      `json:"owner_id"`
	CreatedAt time.Time   `json:"created_at"`
	Stages    []int       `json:"stages"`
	Graph     graph.Stats `json:"graph"`
}

func newSession(id, owner string, g *graph.Graph) *Session {
	return &Session{
		ID:        id,
		OwnerID:   owner,
		CreatedAt: time.Now().UTC(),
		Graph:     g,
		records:   make(map[int]common.StageRecord),
		qa:        make(map[int][]summary.Pair),
	}
}

// Record returns the stored record of a stage.
func (s *Session) Record(stage int) (common.StageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[stage]
	return r, ok
}

// Records returns all stored records in stage order.
func (s *Session) Records() []common.StageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.StageRecord, 0, len(s.records))
	for _, stage := range s.stages() {
		out = append(out, s.records[stage])
	}
	return out
}

// SetRecord stores a stage record together with its Q&A pairs, replacing
// what an earlier run of the same stage left.
func (s *Session) SetRecord(r common.StageRecord, qa []summary.Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.Stage] = r
	s.qa[r.Stage] = qa
}

// QA returns the Q&A pairs recorded for a stage.
func (s *Session) QA(stage int) []summary.Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.qa[stage])
}

func (s *Session) Info() Info {
	s.mu.RLock()
	stages := s.stages()
	s.mu.RUnlock()
	return Info{
		ID:        s.ID,
		OwnerID:   s.OwnerID,
		CreatedAt: s.CreatedAt,
		Stages:    stages,
		Graph:     s.Graph.Stats(),
	}
}

func (s *Session) stages() []int {
	stages := make([]int, 0, len(s.records))
	for stage := range s.records {
		stages = append(stages, stage)
	}
	slices.Sort(stages)
	return stages
}

// Manager keeps the live sessions of the process.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	newID    graph.IDGenerator
	graph    graph.NewGraphParams
}

type NewManagerParams struct {
	// IDGenerator mints session ids, gonanoid.New by default.
	IDGenerator graph.IDGenerator
	// Graph configures the graph of every new session.
	Graph graph.NewGraphParams
}

func NewManager(params NewManagerParams) *Manager {
	newID := params.IDGenerator
	if newID == nil {
		newID = func() (string, error) { return gonanoid.New() }
	}
	return &Manager{
		sessions: make(map[string]*Session),
		newID:    newID,
		graph:    params.Graph,
	}
}

// Create starts a session with an empty graph.
func (m *Manager) Create(owner string) (*Session, error) {
	return m.Adopt(owner, graph.NewGraph(m.graph))
}

// Adopt starts a session around an existing graph, for example one
// rebuilt from a Turtle export.
func (m *Manager) Adopt(owner string, g *graph.Graph) (*Session, error) {
	id, err := m.newID()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		return nil, errors.New("session id collision")
	}
	s := newSession(id, owner, g)
	m.sessions[id] = s
	return s, nil
}

// Get returns the session if owner may access it.
func (m *Manager) Get(id, owner string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if s.OwnerID != owner {
		return nil, ErrForbidden
	}
	return s, nil
}

// List returns the sessions of owner, oldest first.
func (m *Manager) List(owner string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.OwnerID == owner {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b *Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// Delete drops the session and its graph.
func (m *Manager) Delete(id, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.OwnerID != owner {
		return ErrForbidden
	}
	delete(m.sessions, id)
	return nil
}
