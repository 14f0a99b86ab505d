package keyderive

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"sika/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrEmptyIdentity     = errors.New("identity is required")
	ErrInvalidChallenge  = errors.New("invalid or expired challenge")
	ErrChallengeMismatch = errors.New("challenge not bound to identity")
)

// KDF parameters. The salt is domain-separated per identity so two users
// signing the same challenge text can never share a key.
const (
	kdfIterations = 100_000
	kdfKeyLen     = 32
	saltPrefix    = "sika.cardvault.v1:"
)

// Service derives per-identity vault keys from signed session challenges
// and keeps them in memory for the lifetime of the session only. Keys are
// never written to persistent storage.
type Service struct {
	jwtSecret []byte
	ttl       time.Duration

	mu       sync.Mutex
	sessions map[string]sessionKey
}

type sessionKey struct {
	key       []byte
	expiresAt time.Time
}

// NewService builds a key derivation service. Cached keys expire after ttl.
func NewService(jwtSecret []byte, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Service{
		jwtSecret: jwtSecret,
		ttl:       ttl,
		sessions:  make(map[string]sessionKey),
	}
}

// DeriveKey derives the 256-bit vault key for an identity from its signed
// challenge. The same (identity, challenge) pair always derives the same
// key; determinism is what makes later decryption possible.
func (s *Service) DeriveKey(identity uint, signedChallenge string) ([]byte, error) {
	if identity == 0 {
		return nil, ErrEmptyIdentity
	}
	claims, err := s.verifyChallenge(signedChallenge)
	if err != nil {
		return nil, err
	}
	if claims.UserID != identity {
		return nil, ErrChallengeMismatch
	}

	salt := []byte(saltPrefix + strconv.FormatUint(uint64(identity), 10))
	key := pbkdf2.Key([]byte(signedChallenge), salt, kdfIterations, kdfKeyLen, sha256.New)

	if claims.SessionID != "" {
		s.mu.Lock()
		s.sessions[claims.SessionID] = sessionKey{key: key, expiresAt: time.Now().Add(s.ttl)}
		s.mu.Unlock()
	}

	return key, nil
}

// SessionOrDerive returns the session's cached key when one is still
// valid, deriving and caching it otherwise. Request paths go through here
// so the KDF cost is paid once per session, not once per call.
func (s *Service) SessionOrDerive(identity uint, sessionID, signedChallenge string) ([]byte, error) {
	if key, ok := s.SessionKey(sessionID); ok {
		return key, nil
	}
	return s.DeriveKey(identity, signedChallenge)
}

// SessionKey returns the cached key for a session, if still valid.
func (s *Service) SessionKey(sessionID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.sessions, sessionID)
		return nil, false
	}
	return entry.key, true
}

// Invalidate drops a session's cached key. Called on logout.
func (s *Service) Invalidate(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.sessions[sessionID]; ok {
		for i := range entry.key {
			entry.key[i] = 0
		}
		delete(s.sessions, sessionID)
	}
}

func (s *Service) verifyChallenge(signedChallenge string) (*models.UserClaims, error) {
	token, err := jwt.ParseWithClaims(signedChallenge, &models.UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidChallenge
	}
	claims, ok := token.Claims.(*models.UserClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidChallenge
	}
	return claims, nil
}
