package httphandler_test

import (
	"context"
	"sync"
	"time"

	"github.com/ericfisherdev/keypanel/internal/domain/model"
	"github.com/ericfisherdev/keypanel/internal/domain/port/driven"
)

// --- Mock implementations ---

type memKeyStore struct {
	mu    sync.Mutex
	order []string
	keys  map[string]model.Key
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
	out := []model.Key{}
	for _, v := range s.order {
		if k := s.keys[v]; status == "" || k.Status == status {
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

// failingProber fails every key listed in bad.
type failingProber struct {
	bad map[string]bool
}

func (p *failingProber) Probe(ctx context.Context, keyValue, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.bad[keyValue] {
		return errUnauthorized
	}
	return nil
}

type mockSettingsStore struct {
	saved *model.ReactivationConfig
}

func (m *mockSettingsStore) GetReactivation(_ context.Context) (*model.ReactivationConfig, error) {
	return m.saved, nil
}

func (m *mockSettingsStore) SaveReactivation(_ context.Context, cfg model.ReactivationConfig) error {
	m.saved = &cfg
	return nil
}

// stubScheduler records applied configs and reports a fixed status.
type stubScheduler struct {
	mu      sync.Mutex
	applied []model.ReactivationConfig
	status  model.SchedulerStatus
}

func (s *stubScheduler) Apply(cfg model.ReactivationConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, cfg)
}

func (s *stubScheduler) Status() model.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *stubScheduler) ModelID() string { return testModel }

type mockModelLister struct {
	models []model.TargetModel
	err    error
}

func (m *mockModelLister) ListModels(_ context.Context, _ string) ([]model.TargetModel, error) {
	return m.models, m.err
}
