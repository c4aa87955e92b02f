// Package session keeps the server-side login sessions. A session is an
// opaque token mapped to a user, a last-activity time, a cart snapshot and
// the id of the connection that opened it. The connection id is only a
// routing hint: the session never keeps a connection alive.
package session

import (
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aaronwang/bidding-app/internal/apperr"
)

// Session is a copy of one session record
type Session struct {
	Token        string
	UserID       int64
	IsAdmin      bool
	ConnID       string
	LastActivity time.Time
	Cart         map[int64]int
}

// Store holds sessions keyed by token
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func (s *Session) clone() Session {
	c := *s
	c.Cart = maps.Clone(s.Cart)
	if c.Cart == nil {
		c.Cart = make(map[int64]int)
	}
	return c
}

// Create opens a session for a freshly authenticated user
func (s *Store) Create(userID int64, isAdmin bool, connID string) Session {
	sess := &Session{
		Token:        uuid.New().String(),
		UserID:       userID,
		IsAdmin:      isAdmin,
		ConnID:       connID,
		LastActivity: s.now(),
		Cart:         make(map[int64]int),
	}

	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()

	return sess.clone()
}

// Touch validates token and bumps its last-activity time. The connection
// the command arrived on becomes the session's routing target.
func (s *Store) Touch(token, connID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, apperr.Auth("Invalid session")
	}
	sess.LastActivity = s.now()
	if connID != "" {
		sess.ConnID = connID
	}
	return sess.clone(), nil
}

// Get returns the session without touching it
func (s *Store) Get(token string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// SetCart records qty of itemID in the session's cart snapshot; qty <= 0
// removes the entry.
func (s *Store) SetCart(token string, itemID int64, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return
	}
	if qty <= 0 {
		delete(sess.Cart, itemID)
		return
	}
	sess.Cart[itemID] = qty
}

// ClearCart empties the cart snapshot after checkout
func (s *Store) ClearCart(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[token]; ok {
		clear(sess.Cart)
	}
}

// SetUserCart records qty of itemID in the cart snapshot of every session
// the user has open and reports how many were updated. It serves changes
// the user did not make themselves, such as an auction award.
func (s *Store) SetUserCart(userID, itemID int64, qty int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sess := range s.sessions {
		if sess.UserID != userID {
			continue
		}
		if qty <= 0 {
			delete(sess.Cart, itemID)
		} else {
			sess.Cart[itemID] = qty
		}
		n++
	}
	return n
}

// Sweep evicts every session idle for longer than ttl and reports how many
// were removed.
func (s *Store) Sweep(now time.Time, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, sess := range s.sessions {
		if now.Sub(sess.LastActivity) > ttl {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
