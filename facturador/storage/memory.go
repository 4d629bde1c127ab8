package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implementación en memoria del Store, para pruebas y para
// despliegues de una sola instancia sin base de datos.
type MemoryStore struct {
	mu            sync.Mutex
	sequences     map[string]int64
	documents     map[string]*DocumentRecord
	contingencies []*ContingencyEntry
	credentials   map[string]*CredentialsRow
	nextID        int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sequences:   make(map[string]int64),
		documents:   make(map[string]*DocumentRecord),
		credentials: make(map[string]*CredentialsRow),
	}
}

func (s *MemoryStore) NextSequence(_ context.Context, orgID, docType string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := orgID + "|" + docType
	s.sequences[key]++
	return s.sequences[key], nil
}

func (s *MemoryStore) SaveDraft(_ context.Context, rec *DocumentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.documents[rec.Clave]; exists {
		return ErrDuplicateClave
	}
	now := time.Now()
	cp := *rec
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.documents[rec.Clave] = &cp
	return nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, clave, status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.documents[clave]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	rec.Message = message
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Document(_ context.Context, clave string) (*DocumentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.documents[clave]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) AddContingency(_ context.Context, e *ContingencyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	cp := *e
	cp.ID = s.nextID
	if cp.Status == "" {
		cp.Status = ContingencyPending
	}
	s.contingencies = append(s.contingencies, &cp)
	return nil
}

func (s *MemoryStore) DueContingencies(_ context.Context, orgID string, now time.Time, limit int) ([]*ContingencyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ContingencyEntry
	for _, e := range s.contingencies {
		if e.OrgID != orgID || e.Status != ContingencyPending {
			continue
		}
		if e.NextRetryAt.After(now) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	// más antiguas primero
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateContingency(_ context.Context, e *ContingencyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.contingencies {
		if cur.ID == e.ID {
			cp := *e
			s.contingencies[i] = &cp
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) PendingOrgs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, e := range s.contingencies {
		if e.Status == ContingencyPending && !seen[e.OrgID] {
			seen[e.OrgID] = true
			out = append(out, e.OrgID)
		}
	}
	return out, nil
}

func (s *MemoryStore) Credentials(_ context.Context, orgID string) (*CredentialsRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.credentials[orgID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

// PutCredentials alta de credenciales, usada en pruebas y aprovisionamiento.
func (s *MemoryStore) PutCredentials(row *CredentialsRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *row
	s.credentials[row.OrgID] = &cp
}
