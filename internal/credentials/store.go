// Package credentials persists protocol session material so an account's
// session survives process restarts without re-pairing.
//
// A Store is scoped to one account. The full record set is read once at
// session start and served from memory; mutations signaled by the protocol
// engine update the cache synchronously and are flushed to the database by a
// background writer, coalescing multi-key updates into one batch.
package credentials

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/chatbridge/session-server-go/internal/engine"
	"github.com/chatbridge/session-server-go/internal/model"
	"github.com/chatbridge/session-server-go/internal/repository"
)

type Store struct {
	repo           repository.CredentialRepository
	organizationID string
	accountKey     string

	mu    sync.RWMutex
	cache map[string]engine.CredentialValue

	flushMu sync.Mutex
	// dirty maps keys to their latest value; nil marks a delete. Last write
	// wins, so redundant rotations collapse into one row write.
	dirty  map[string]*engine.CredentialValue
	notify chan struct{}

	// writeMu orders the flusher's database writes against Purge: a batch
	// already taken off dirty finishes writing before the purge deletes, so
	// no write ordered before the purge can land after it.
	writeMu sync.Mutex

	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}
}

var _ engine.CredentialSource = (*Store)(nil)

func NewStore(repo repository.CredentialRepository, organizationID, accountKey string) *Store {
	s := &Store{
		repo:           repo,
		organizationID: organizationID,
		accountKey:     accountKey,
		cache:          make(map[string]engine.CredentialValue),
		dirty:          make(map[string]*engine.CredentialValue),
		notify:         make(chan struct{}, 1),
		stop:           make(chan struct{}),
		stopped:        make(chan struct{}),
	}
	go s.flusher()
	return s
}

// Load reads the full credential set into the cache. Corrupt records are
// skipped and treated as absent; the engine reinitializes them.
func (s *Store) Load(ctx context.Context) error {
	records, err := s.repo.ListByAccount(ctx, s.organizationID, s.accountKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]engine.CredentialValue, len(records))
	for _, record := range records {
		var value engine.CredentialValue
		if err := json.Unmarshal([]byte(record.Value), &value); err != nil {
			log.Warn().
				Err(err).
				Str("accountKey", s.accountKey).
				Str("recordKey", record.RecordKey).
				Msg("corrupt credential record, treating as absent")
			continue
		}
		s.cache[record.RecordKey] = value
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (engine.CredentialValue, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.cache[key]
	return value, ok, nil
}

func (s *Store) Set(ctx context.Context, key string, value engine.CredentialValue) error {
	return s.SetBatch(ctx, map[string]engine.CredentialValue{key: value})
}

func (s *Store) SetBatch(ctx context.Context, values map[string]engine.CredentialValue) error {
	s.mu.Lock()
	for key, value := range values {
		s.cache[key] = value
	}
	s.mu.Unlock()

	s.flushMu.Lock()
	for key, value := range values {
		v := value
		s.dirty[key] = &v
	}
	s.flushMu.Unlock()
	s.wake()
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()

	s.flushMu.Lock()
	s.dirty[key] = nil
	s.flushMu.Unlock()
	s.wake()
	return nil
}

// Purge synchronously deletes every persisted record for the account and
// empties the cache. Used only on terminal logout.
func (s *Store) Purge(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.flushMu.Lock()
	s.dirty = make(map[string]*engine.CredentialValue)
	s.flushMu.Unlock()

	s.mu.Lock()
	s.cache = make(map[string]engine.CredentialValue)
	s.mu.Unlock()

	count, err := s.repo.DeleteAllForAccount(ctx, s.organizationID, s.accountKey)
	if err != nil {
		return err
	}
	log.Info().
		Str("accountKey", s.accountKey).
		Int64("count", count).
		Msg("credential records purged")
	return nil
}

// Close flushes outstanding mutations and stops the background writer.
func (s *Store) Close(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	select {
	case <-s.stopped:
	case <-ctx.Done():
	}
}

func (s *Store) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Store) flusher() {
	defer close(s.stopped)
	for {
		select {
		case <-s.notify:
			s.flush()
		case <-s.stop:
			s.flush()
			return
		}
	}
}

func (s *Store) flush() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.flushMu.Lock()
	if len(s.dirty) == 0 {
		s.flushMu.Unlock()
		return
	}
	batch := s.dirty
	s.dirty = make(map[string]*engine.CredentialValue)
	s.flushMu.Unlock()

	ctx := context.Background()
	for key, value := range batch {
		if value == nil {
			if err := s.repo.Delete(ctx, s.organizationID, s.accountKey, key); err != nil {
				log.Error().
					Err(err).
					Str("accountKey", s.accountKey).
					Str("recordKey", key).
					Msg("credential delete failed")
			}
			continue
		}

		serialized, err := json.Marshal(value)
		if err != nil {
			log.Error().
				Err(err).
				Str("accountKey", s.accountKey).
				Str("recordKey", key).
				Msg("credential encode failed")
			continue
		}
		record := model.CredentialRecord{
			OrganizationID: s.organizationID,
			AccountKey:     s.accountKey,
			RecordKey:      key,
			Value:          string(serialized),
		}
		if err := s.repo.Upsert(ctx, record); err != nil {
			log.Error().
				Err(err).
				Str("accountKey", s.accountKey).
				Str("recordKey", key).
				Msg("credential write failed")
		}
	}
}
