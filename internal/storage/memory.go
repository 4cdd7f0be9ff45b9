package storage

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
)

// MemoryBackend is a bounded in-memory transition store. When full, the
// oldest transitions are evicted first.
type MemoryBackend struct {
	mu          sync.RWMutex
	transitions map[string]*Transition
	episodes    map[string]int
	order       []string // ids sorted by timestamp
	maxSize     int
	rng         *rand.Rand
	now         func() time.Time
}

// NewMemoryBackend returns a store holding at most maxSize transitions; zero
// means unbounded.
func NewMemoryBackend(maxSize int, seed int64) *MemoryBackend {
	return &MemoryBackend{
		transitions: make(map[string]*Transition),
		episodes:    make(map[string]int),
		maxSize:     maxSize,
		rng:         rand.New(rand.NewSource(seed)),
		now:         time.Now,
	}
}

func (m *MemoryBackend) Store(ctx context.Context, t *Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storeLocked(t)
}

func (m *MemoryBackend) StoreBatch(ctx context.Context, transitions []*Transition) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(transitions))
	for _, t := range transitions {
		if err := m.storeLocked(t); err != nil {
			return ids, err
		}
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func (m *MemoryBackend) storeLocked(t *Transition) error {
	if m.transitions == nil {
		return fmt.Errorf("store transition: backend closed")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, exists := m.transitions[t.ID]; exists {
		return fmt.Errorf("store transition %s: duplicate id", t.ID)
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = m.now()
	}
	if t.Priority <= 0 {
		t.Priority = 1
	}

	m.transitions[t.ID] = t
	if t.EpisodeID != "" {
		m.episodes[t.EpisodeID]++
	}
	idx := sort.Search(len(m.order), func(i int) bool {
		return m.transitions[m.order[i]].Timestamp.After(t.Timestamp)
	})
	m.order = append(m.order, "")
	copy(m.order[idx+1:], m.order[idx:])
	m.order[idx] = t.ID

	for m.maxSize > 0 && len(m.order) > m.maxSize {
		m.deleteLocked(m.order[0])
	}
	return nil
}

func (m *MemoryBackend) Sample(ctx context.Context, config SampleConfig) ([]*Transition, []float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := m.candidates(config)
	if len(candidates) == 0 {
		return nil, nil, ErrEmpty
	}
	n := config.BatchSize
	if n <= 0 || n > len(candidates) {
		n = len(candidates)
	}
	if !config.Prioritized {
		m.rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
		weights := make([]float64, n)
		for i := range weights {
			weights[i] = 1
		}
		return candidates[:n], weights, nil
	}
	sampled, weights := m.prioritized(candidates, n, config.PriorityAlpha)
	return sampled, weights, nil
}

// prioritized draws n distinct transitions with probability proportional to
// priority^alpha. Weights are importance weights 1/(N*p) scaled so the
// largest is one.
func (m *MemoryBackend) prioritized(candidates []*Transition, n int, alpha float64) ([]*Transition, []float64) {
	if alpha <= 0 {
		alpha = 1
	}
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = math.Pow(c.Priority, alpha)
	}
	total := floats.Sum(scores)

	sampled := make([]*Transition, 0, n)
	weights := make([]float64, 0, n)
	remaining := append([]float64(nil), scores...)
	cum := make([]float64, len(remaining))
	for len(sampled) < n {
		floats.CumSum(cum, remaining)
		target := m.rng.Float64() * cum[len(cum)-1]
		i := sort.Search(len(cum), func(i int) bool { return cum[i] > target })
		if i == len(cum) {
			i = len(cum) - 1
		}
		for remaining[i] == 0 {
			i = (i + 1) % len(remaining)
		}
		sampled = append(sampled, candidates[i])
		weights = append(weights, 1/(float64(len(candidates))*scores[i]/total))
		remaining[i] = 0
	}
	floats.Scale(1/floats.Max(weights), weights)
	return sampled, weights
}

func (m *MemoryBackend) candidates(config SampleConfig) []*Transition {
	out := make([]*Transition, 0, len(m.order))
	for _, id := range m.order {
		t := m.transitions[id]
		if config.EnvID != "" && t.EnvID != config.EnvID {
			continue
		}
		if config.MinTimestamp != nil && t.Timestamp.Before(*config.MinTimestamp) {
			continue
		}
		if config.MaxTimestamp != nil && t.Timestamp.After(*config.MaxTimestamp) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (m *MemoryBackend) GetStats(ctx context.Context, envID string) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{
		TotalTransitions: uint64(len(m.transitions)),
		TotalEpisodes:    uint64(len(m.episodes)),
		TransitionsByEnv: make(map[string]uint64),
	}
	for _, t := range m.transitions {
		if envID == "" || t.EnvID == envID {
			stats.TransitionsByEnv[t.EnvID]++
		}
	}
	if len(m.order) > 0 {
		oldest := m.transitions[m.order[0]].Timestamp
		newest := m.transitions[m.order[len(m.order)-1]].Timestamp
		stats.OldestTimestamp = &oldest
		stats.NewestTimestamp = &newest
	}
	return stats, nil
}

func (m *MemoryBackend) UpdatePriorities(ctx context.Context, ids []string, priorities []float64) error {
	if len(ids) != len(priorities) {
		return fmt.Errorf("mismatched lengths: %d ids vs %d priorities", len(ids), len(priorities))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		if t, ok := m.transitions[id]; ok && priorities[i] > 0 {
			t.Priority = priorities[i]
		}
	}
	return nil
}

func (m *MemoryBackend) Clear(ctx context.Context, envID string, before *time.Time, keepLastN int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var relevant []string
	for _, id := range m.order {
		if envID == "" || m.transitions[id].EnvID == envID {
			relevant = append(relevant, id)
		}
	}

	doomed := make(map[string]struct{})
	for _, id := range relevant {
		if before != nil && m.transitions[id].Timestamp.Before(*before) {
			doomed[id] = struct{}{}
		}
	}
	if keepLastN > 0 && len(relevant) > keepLastN {
		for _, id := range relevant[:len(relevant)-keepLastN] {
			doomed[id] = struct{}{}
		}
	}
	for id := range doomed {
		m.deleteLocked(id)
	}
	return uint64(len(doomed)), nil
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = nil
	m.episodes = nil
	m.order = nil
	return nil
}

func (m *MemoryBackend) deleteLocked(id string) {
	t, ok := m.transitions[id]
	if !ok {
		return
	}
	delete(m.transitions, id)
	if t.EpisodeID != "" {
		m.episodes[t.EpisodeID]--
		if m.episodes[t.EpisodeID] <= 0 {
			delete(m.episodes, t.EpisodeID)
		}
	}
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}
