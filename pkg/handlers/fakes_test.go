package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/earthdata/cmr-embeddings/pkg/models"
	"github.com/earthdata/cmr-embeddings/pkg/storage"
)

// memoryStore is an in-memory Datastore for handler tests.
type memoryStore struct {
	mu sync.Mutex

	chunks       map[string][]models.EmbeddedChunk // concept id -> chunks
	associations map[string]map[string][]string    // left concept id -> kind -> right ids
	kmsRows      map[string]storage.KMSEmbedding   // kms uuid -> row
	kmsLinks     map[string][]string               // concept id -> kms uuids

	failOp string // when set, the named operation errors
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		chunks:       make(map[string][]models.EmbeddedChunk),
		associations: make(map[string]map[string][]string),
		kmsRows:      make(map[string]storage.KMSEmbedding),
		kmsLinks:     make(map[string][]string),
	}
}

func (s *memoryStore) fail(op string) error {
	if s.failOp == op {
		return &storage.StorageError{Op: op, Err: errors.New("injected failure")}
	}
	return nil
}

func (s *memoryStore) UpsertChunks(ctx context.Context, conceptType, conceptID string, chunks []models.EmbeddedChunk) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("upsert_chunks"); err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}
	s.chunks[conceptID] = append([]models.EmbeddedChunk(nil), chunks...)
	return len(chunks), nil
}

func (s *memoryStore) DeleteChunks(ctx context.Context, conceptID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("delete_chunks"); err != nil {
		return 0, err
	}
	n := len(s.chunks[conceptID])
	delete(s.chunks, conceptID)
	return n, nil
}

func (s *memoryStore) UpsertAssociations(ctx context.Context, conceptType, conceptID string, associations map[string][]string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("upsert_associations"); err != nil {
		return 0, err
	}
	kept := make(map[string][]string)
	count := 0
	for _, kind := range []string{"variables", "citations"} {
		if ids := associations[kind]; len(ids) > 0 {
			kept[kind] = append([]string(nil), ids...)
			count += len(ids)
		}
	}
	s.associations[conceptID] = kept
	return count, nil
}

func (s *memoryStore) DeleteAssociations(ctx context.Context, conceptID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("delete_associations"); err != nil {
		return 0, err
	}
	n := 0
	for _, ids := range s.associations[conceptID] {
		n += len(ids)
	}
	delete(s.associations, conceptID)
	return n, nil
}

func (s *memoryStore) GetKMSEmbedding(ctx context.Context, uuid string) (*storage.KMSEmbedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("get_kms_embedding"); err != nil {
		return nil, err
	}
	if row, ok := s.kmsRows[uuid]; ok {
		return &row, nil
	}
	return nil, nil
}

func (s *memoryStore) UpsertKMSEmbedding(ctx context.Context, embedding storage.KMSEmbedding) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("upsert_kms_embedding"); err != nil {
		return false, err
	}
	_, existed := s.kmsRows[embedding.UUID]
	s.kmsRows[embedding.UUID] = embedding
	return !existed, nil
}

func (s *memoryStore) UpsertConceptKMSAssociations(ctx context.Context, conceptType, conceptID string, uuids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("upsert_concept_kms_associations"); err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(uuids))
	deduped := make([]string, 0, len(uuids))
	for _, u := range uuids {
		if !seen[u] {
			seen[u] = true
			deduped = append(deduped, u)
		}
	}
	s.kmsLinks[conceptID] = deduped
	return len(deduped), nil
}

func (s *memoryStore) DeleteConceptKMSAssociations(ctx context.Context, conceptID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("delete_concept_kms_associations"); err != nil {
		return 0, err
	}
	n := len(s.kmsLinks[conceptID])
	delete(s.kmsLinks, conceptID)
	return n, nil
}

func (s *memoryStore) SearchSimilar(ctx context.Context, embedding []float32, limit int, conceptType string) ([]storage.SearchResult, error) {
	return nil, nil
}

func (s *memoryStore) Close() error { return nil }

// fakeFetcher serves concept metadata and associations keyed by concept id.
type fakeFetcher struct {
	metadata     map[string]map[string]interface{}
	associations map[string]map[string][]string
	fetchErr     error
	fetches      []string
}

func (f *fakeFetcher) FetchConcept(ctx context.Context, conceptID string, revisionID int) (map[string]interface{}, error) {
	f.fetches = append(f.fetches, fmt.Sprintf("%s:%d", conceptID, revisionID))
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	m, ok := f.metadata[conceptID]
	if !ok {
		return nil, fmt.Errorf("concept %s not found", conceptID)
	}
	return m, nil
}

func (f *fakeFetcher) FetchAssociations(ctx context.Context, conceptID string) map[string][]string {
	return f.associations[conceptID]
}

// fakeResolver resolves terms from a fixed table.
type fakeResolver struct {
	terms map[string]*models.KMSTerm // keyed by term
}

func (f *fakeResolver) LookupTerm(ctx context.Context, term, scheme string) *models.KMSTerm {
	return f.terms[term]
}

// fakeGenerator returns a deterministic vector per text; texts in failOn
// error, and panicOn triggers a panic.
type fakeGenerator struct {
	calls   []string
	failOn  map[string]bool
	panicOn string
}

func (f *fakeGenerator) ModelID() string { return "fake-model" }

func (f *fakeGenerator) Generate(ctx context.Context, text, conceptType, attribute string) ([]float32, error) {
	f.calls = append(f.calls, text)
	if text == f.panicOn && text != "" {
		panic("generator panic: " + text)
	}
	if f.failOn[text] {
		return nil, errors.New("embedding failed for " + text)
	}
	return []float32{float32(len(text)), 1}, nil
}
