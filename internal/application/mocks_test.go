package application_test

import (
	"context"
	"sync"
	"time"

	"github.com/ericfisherdev/keypanel/internal/domain/model"
	"github.com/ericfisherdev/keypanel/internal/domain/port/driven"
)

// --- Mock implementations ---

// memKeyStore is an in-memory driven.KeyStore with the same semantics as the
// SQLite adapter.
type memKeyStore struct {
	mu      sync.Mutex
	order   []string
	keys    map[string]model.Key
	listErr error
}

func newMemKeyStore(keys ...model.Key) *memKeyStore {
	s := &memKeyStore{keys: make(map[string]model.Key)}
	for _, k := range keys {
		s.order = append(s.order, k.Value)
		s.keys[k.Value] = k
	}
	return s
}

func (s *memKeyStore) Add(_ context.Context, key model.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.Value]; ok {
		return driven.ErrKeyAlreadyExists
	}
	s.order = append(s.order, key.Value)
	s.keys[key.Value] = key
	return nil
}

func (s *memKeyStore) Delete(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[value]; !ok {
		return driven.ErrKeyNotFound
	}
	delete(s.keys, value)
	for i, v := range s.order {
		if v == value {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memKeyStore) Get(_ context.Context, value string) (*model.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[value]
	if !ok {
		return nil, nil
	}
	return &k, nil
}

func (s *memKeyStore) List(ctx context.Context) ([]model.Key, error) {
	return s.ListByStatus(ctx, "")
}

func (s *memKeyStore) ListByStatus(_ context.Context, status model.KeyStatus) ([]model.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := []model.Key{}
	for _, v := range s.order {
		k := s.keys[v]
		if status == "" || k.Status == status {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *memKeyStore) Disable(_ context.Context, value, reason string, at time.Time) (model.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[value]
	if !ok {
		return model.Key{}, driven.ErrKeyNotFound
	}
	if k.DisabledAt.IsZero() {
		k.DisabledAt = at
	}
	k.Status = model.KeyStatusDisabled
	k.LastFailureReason = reason
	s.keys[value] = k
	return k, nil
}

func (s *memKeyStore) Reactivate(_ context.Context, value string) (model.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[value]
	if !ok {
		return model.Key{}, driven.ErrKeyNotFound
	}
	k.Status = model.KeyStatusActive
	k.DisabledAt = time.Time{}
	k.LastFailureReason = ""
	s.keys[value] = k
	return k, nil
}

func (s *memKeyStore) get(value string) model.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[value]
}

// funcProber adapts a function to driven.Prober and counts calls.
type funcProber struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, keyValue, modelID string) error
}

func (p *funcProber) Probe(ctx context.Context, keyValue, modelID string) error {
	p.mu.Lock()
	p.calls = append(p.calls, keyValue)
	p.mu.Unlock()
	if p.fn == nil {
		return nil
	}
	return p.fn(ctx, keyValue, modelID)
}

func (p *funcProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type mockSettingsStore struct {
	mu      sync.Mutex
	saved   *model.ReactivationConfig
	getErr  error
	saveErr error
}

func (m *mockSettingsStore) GetReactivation(_ context.Context) (*model.ReactivationConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved, m.getErr
}

func (m *mockSettingsStore) SaveReactivation(_ context.Context, cfg model.ReactivationConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = &cfg
	return nil
}

type mockApplier struct {
	mu      sync.Mutex
	applied []model.ReactivationConfig
}

func (m *mockApplier) Apply(cfg model.ReactivationConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, cfg)
}

type mockModelLister struct {
	calls  []string
	failOn map[string]error
	models []model.TargetModel
}

func (m *mockModelLister) ListModels(_ context.Context, keyValue string) ([]model.TargetModel, error) {
	m.calls = append(m.calls, keyValue)
	if err, ok := m.failOn[keyValue]; ok {
		return nil, err
	}
	return m.models, nil
}

func activeKey(value string) model.Key {
	return model.Key{Value: value, Status: model.KeyStatusActive, Source: model.KeySourceUser}
}

func disabledKey(value, reason string, at time.Time) model.Key {
	return model.Key{
		Value:             value,
		Status:            model.KeyStatusDisabled,
		DisabledAt:        at,
		LastFailureReason: reason,
		Source:            model.KeySourceUser,
	}
}
