/*
Package session keeps each user's most recent recommendation for a short time so a later
execute call can act on it, and serializes a user's requests across workers.
*/
package session

import (
	"sync"
	"time"

	"github.com/elys-network/lpadvisor/internal/logger"
	"github.com/elys-network/lpadvisor/internal/types"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

var sessionLogger = logger.GetForComponent("session_store")

const (
	DefaultTTL     = 30 * time.Minute
	DefaultMaxSize = 10_000
)

// Session is the last recommendation shown to a user.
type Session struct {
	UserID        string
	Profile       types.RiskProfile
	HigherReturn  types.RecommendationSet
	StableReturn  types.RecommendationSet
	SignalIDs     map[types.PoolID]string // Composite signal behind each recommended pool
	RecommendedAt time.Time
}

// Primary returns the recommendation set matching the session's profile.
func (s Session) Primary() types.RecommendationSet {
	if s.Profile == types.ProfileConservative {
		return s.StableReturn
	}
	return s.HigherReturn
}

// Store is a size-bounded TTL cache of sessions keyed by user id.
type Store struct {
	cache *expirable.LRU[string, Session]

	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore builds a store. Non-positive arguments use the defaults.
func NewStore(maxSize int, ttl time.Duration) *Store {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	onEvict := func(userID string, _ Session) {
		sessionLogger.Debug().Str("user_id", userID).Msg("Session evicted")
	}
	return &Store{
		cache: expirable.NewLRU[string, Session](maxSize, onEvict, ttl),
		locks: make(map[string]*userLock),
	}
}

func (s *Store) Put(sess Session) {
	s.cache.Add(sess.UserID, sess)
}

// Get returns the user's live session.
func (s *Store) Get(userID string) (Session, bool) {
	return s.cache.Get(userID)
}

// Take returns and removes the user's live session.
func (s *Store) Take(userID string) (Session, bool) {
	sess, ok := s.cache.Get(userID)
	if ok {
		s.cache.Remove(userID)
	}
	return sess, ok
}

func (s *Store) Delete(userID string) {
	s.cache.Remove(userID)
}

func (s *Store) Len() int {
	return s.cache.Len()
}

// Lock serializes work for one user. The returned function releases the lock.
func (s *Store) Lock(userID string) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{}
		s.locks[userID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, userID)
		}
		s.mu.Unlock()
	}
}
