// Package auth manages user accounts and bearer tokens: bcrypt password
// storage and HS256 JWT issue/verify.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/cadcoin/cadcoind/internal/ledger"
	"github.com/cadcoin/cadcoind/internal/log"
	"github.com/cadcoin/cadcoind/pkg/tx"
)

// Auth errors.
var (
	// ErrAddressTaken is returned when registering an existing address.
	ErrAddressTaken = errors.New("address already taken")
	// ErrInvalidCredentials is returned on login with a bad address or
	// password. The two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenExpired is returned for tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrInvalidToken is returned for malformed or mis-signed tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// initialReputation is granted to every new account.
const initialReputation = 100

// Claims is the JWT payload: the authenticated address plus standard
// expiry handling.
type Claims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// Session is returned on successful login.
type Session struct {
	Token           string `json:"token"`
	Address         string `json:"address"`
	ReputationScore int    `json:"reputation_score"`
}

// Manager handles registration, login and token verification over the
// ledger's user table.
type Manager struct {
	store  *ledger.Store
	secret []byte
	expiry time.Duration
}

// New creates an auth manager.
func New(store *ledger.Store, secret string, expiry time.Duration) *Manager {
	return &Manager{store: store, secret: []byte(secret), expiry: expiry}
}

// Register creates a user with a bcrypt-hashed password and the initial
// reputation score.
func (m *Manager) Register(address, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	err = m.store.Update(func(t *ledger.Tx) error {
		if ok, err := t.HasUser(address); err != nil {
			return err
		} else if ok {
			return ErrAddressTaken
		}
		now := tx.Now()
		return t.PutUser(ledger.User{
			Address:         address,
			PasswordHash:    string(hash),
			ReputationScore: initialReputation,
			CreatedAt:       now,
			LastActivity:    now,
		})
	})
	if err != nil {
		return err
	}
	log.Auth.Info().Str("address", address).Msg("user registered")
	return nil
}

// Login verifies the password, bumps last activity and issues a token.
func (m *Manager) Login(address, password string) (*Session, error) {
	var user ledger.User
	err := m.store.Update(func(t *ledger.Tx) error {
		var err error
		user, err = t.User(address)
		if err == ledger.ErrNotFound {
			return ErrInvalidCredentials
		}
		if err != nil {
			return err
		}
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
			return ErrInvalidCredentials
		}
		user.LastActivity = tx.Now()
		return t.PutUser(user)
	})
	if err != nil {
		return nil, err
	}

	token, err := m.issue(address)
	if err != nil {
		return nil, err
	}
	log.Auth.Info().Str("address", address).Msg("login")
	return &Session{
		Token:           token,
		Address:         address,
		ReputationScore: user.ReputationScore,
	}, nil
}

// Verify decodes a bearer token and returns the authenticated address.
func (m *Manager) Verify(token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}
	if !parsed.Valid || claims.Address == "" {
		return "", ErrInvalidToken
	}
	return claims.Address, nil
}

// issue signs a fresh HS256 token for the address.
func (m *Manager) issue(address string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Address: address,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}
