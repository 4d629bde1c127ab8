package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_NextSequence(t *testing.T) {

	s := NewMemoryStore()
	ctx := context.Background()

	n1, err := s.NextSequence(ctx, "org-1", "01")
	require.NoError(t, err)
	n2, err := s.NextSequence(ctx, "org-1", "01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n1)
	assert.Equal(t, int64(2), n2)

	// contadores independientes por organización y tipo
	other, err := s.NextSequence(ctx, "org-1", "08")
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)

	other, err = s.NextSequence(ctx, "org-2", "01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)
}

func TestMemoryStore_NextSequenceConcurrent(t *testing.T) {

	s := NewMemoryStore()
	ctx := context.Background()

	const callers = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.NextSequence(ctx, "org-1", "01")
			assert.NoError(t, err)
			mu.Lock()
			assert.False(t, seen[n], "sequence %d allocated twice", n)
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, callers)
}

func TestMemoryStore_Documents(t *testing.T) {

	s := NewMemoryStore()
	ctx := context.Background()

	rec := &DocumentRecord{Clave: "clave-1", OrgID: "org-1", DocType: "01", Status: "FIRMADO"}
	require.NoError(t, s.SaveDraft(ctx, rec))

	// clave repetida
	assert.ErrorIs(t, s.SaveDraft(ctx, rec), ErrDuplicateClave)

	got, err := s.Document(ctx, "clave-1")
	require.NoError(t, err)
	assert.Equal(t, "FIRMADO", got.Status)
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, s.UpdateStatus(ctx, "clave-1", "ENVIADO", ""))
	got, err = s.Document(ctx, "clave-1")
	require.NoError(t, err)
	assert.Equal(t, "ENVIADO", got.Status)

	_, err = s.Document(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateStatus(ctx, "missing", "ENVIADO", ""), ErrNotFound)
}

func TestMemoryStore_Contingencies(t *testing.T) {

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.AddContingency(ctx, &ContingencyEntry{OrgID: "org-1", Clave: "c1", NextRetryAt: now.Add(-time.Minute)}))
	require.NoError(t, s.AddContingency(ctx, &ContingencyEntry{OrgID: "org-1", Clave: "c2", NextRetryAt: now.Add(time.Hour)}))
	require.NoError(t, s.AddContingency(ctx, &ContingencyEntry{OrgID: "org-2", Clave: "c3", NextRetryAt: now.Add(-time.Minute)}))

	due, err := s.DueContingencies(ctx, "org-1", now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "c1", due[0].Clave)
	assert.Equal(t, ContingencyPending, due[0].Status)

	// marcar procesada la saca del conjunto vencido
	due[0].Status = ContingencyProcessed
	require.NoError(t, s.UpdateContingency(ctx, due[0]))

	due, err = s.DueContingencies(ctx, "org-1", now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	orgs, err := s.PendingOrgs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"org-1", "org-2"}, orgs) // c2 sigue pendiente
}

func TestMemoryStore_DueContingenciesOrderAndLimit(t *testing.T) {

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	for _, c := range []string{"c1", "c2", "c3"} {
		require.NoError(t, s.AddContingency(ctx, &ContingencyEntry{OrgID: "org-1", Clave: c, NextRetryAt: now.Add(-time.Minute)}))
	}

	due, err := s.DueContingencies(ctx, "org-1", now, 2)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "c1", due[0].Clave)
	assert.Equal(t, "c2", due[1].Clave)
}

func TestMemoryStore_Credentials(t *testing.T) {

	s := NewMemoryStore()
	ctx := context.Background()

	s.PutCredentials(&CredentialsRow{OrgID: "org-1", IDPUser: "user@stag"})

	row, err := s.Credentials(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "user@stag", row.IDPUser)

	_, err = s.Credentials(ctx, "org-2")
	assert.ErrorIs(t, err, ErrNotFound)
}
