// Package identity persists pseudonymous identities, one record per session key.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	mrand "math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/townhall/internal/model"
	"github.com/d60-Lab/townhall/pkg/logger"
)

const keyPrefix = "townhall_identity_v2"

var (
	ErrNoIdentity        = errors.New("no identity stored")
	ErrNotBusiness       = errors.New("identity is not a business account")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrEmptyName         = errors.New("business name is required")
)

var adjectives = []string{
	"Neon", "Silent", "Binary", "Ghost", "Zero", "Dark", "Cipher", "Null", "Quantum",
	"Echo", "Rapid", "Frozen", "Hidden", "Solar", "Lunar", "Static", "Glitch",
}

var nouns = []string{
	"Fox", "Vector", "Protocol", "Shadow", "Nomad", "Specter", "Signal", "Daemon",
	"Proxy", "Node", "Drifter", "Wraith", "Unit", "Operator", "Current", "System",
}

const lockStripes = 64

// Store reads and writes identities. Mutations of one session are serialized.
type Store struct {
	kv    KV
	now   func() time.Time
	locks [lockStripes]sync.Mutex
}

type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(kv KV, opts ...Option) *Store {
	s := &Store{kv: kv, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the KV key holding the identity of session.
func Key(session string) string { return keyPrefix + ":" + session }

func (s *Store) lock(session string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(session))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// Get returns the stored identity or ErrNoIdentity.
func (s *Store) Get(ctx context.Context, session string) (*model.UserIdentity, error) {
	b, err := s.kv.Get(ctx, Key(session))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoIdentity
	}
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	var u model.UserIdentity
	if err := json.Unmarshal(b, &u); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	return &u, nil
}

// GetOrCreate returns the stored identity, generating a standard one on first use.
func (s *Store) GetOrCreate(ctx context.Context, session string) (*model.UserIdentity, error) {
	defer s.lock(session)()
	return s.getOrCreate(ctx, session)
}

func (s *Store) getOrCreate(ctx context.Context, session string) (*model.UserIdentity, error) {
	u, err := s.Get(ctx, session)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNoIdentity) {
		return nil, err
	}
	u, err = s.generate()
	if err != nil {
		return nil, err
	}
	if err := s.put(ctx, session, u); err != nil {
		return nil, err
	}
	logger.Debug("identity generated", zap.String("codename", u.Codename))
	return u, nil
}

// Regenerate drops the stored identity and creates a fresh standard one.
func (s *Store) Regenerate(ctx context.Context, session string) (*model.UserIdentity, error) {
	defer s.lock(session)()
	if err := s.kv.Delete(ctx, Key(session)); err != nil {
		return nil, fmt.Errorf("clear identity: %w", err)
	}
	return s.getOrCreate(ctx, session)
}

// LoginAsBusiness overwrites the session identity with a business account holding no funds.
func (s *Store) LoginAsBusiness(ctx context.Context, session, name string) (*model.UserIdentity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	defer s.lock(session)()
	u := &model.UserIdentity{
		Codename:    name,
		SessionHash: "BIZ_" + base36(9),
		CreatedAt:   s.now().UnixMilli(),
		Kind:        model.AuthorBusiness,
		Balance:     0,
	}
	if err := s.put(ctx, session, u); err != nil {
		return nil, err
	}
	logger.Info("business login", zap.String("codename", u.Codename))
	return u, nil
}

// AddFunds credits a business identity.
func (s *Store) AddFunds(ctx context.Context, session string, amount int64) (*model.UserIdentity, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.update(ctx, session, func(u *model.UserIdentity) error {
		if amount > math.MaxInt64-u.Balance {
			return ErrInvalidAmount
		}
		u.Balance += amount
		return nil
	})
}

// DeductFunds debits a business identity; the balance never goes below zero.
func (s *Store) DeductFunds(ctx context.Context, session string, amount int64) (*model.UserIdentity, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	return s.update(ctx, session, func(u *model.UserIdentity) error {
		if u.Balance < amount {
			return ErrInsufficientFunds
		}
		u.Balance -= amount
		return nil
	})
}

func (s *Store) update(ctx context.Context, session string, fn func(*model.UserIdentity) error) (*model.UserIdentity, error) {
	defer s.lock(session)()
	u, err := s.Get(ctx, session)
	if err != nil {
		return nil, err
	}
	if !u.IsBusiness() {
		return nil, ErrNotBusiness
	}
	if err := fn(u); err != nil {
		return nil, err
	}
	if err := s.put(ctx, session, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) put(ctx context.Context, session string, u *model.UserIdentity) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, Key(session), b); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

func (s *Store) generate() (*model.UserIdentity, error) {
	hash, err := sessionHash()
	if err != nil {
		return nil, err
	}
	return &model.UserIdentity{
		Codename:    Codename(),
		SessionHash: hash,
		CreatedAt:   s.now().UnixMilli(),
		Kind:        model.AuthorStandard,
	}, nil
}

// Codename picks a random "Adjective Noun" pair.
func Codename() string {
	return adjectives[mrand.IntN(len(adjectives))] + " " + nouns[mrand.IntN(len(nouns))]
}

// sessionHash is 12 uppercase hex characters from crypto/rand.
func sessionHash() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session hash: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

func base36(n int) string {
	var sb strings.Builder
	for sb.Len() < n {
		sb.WriteString(strconv.FormatUint(mrand.Uint64(), 36))
	}
	return strings.ToUpper(sb.String()[:n])
}
