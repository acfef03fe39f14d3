package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidPassword is returned for an empty password.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrAdminDisabled is returned when no admin password hash or no usable JWT secret is configured.
	ErrAdminDisabled = errors.New("admin login disabled")
)

// MinSecretBytes is the shortest JWT signing secret accepted.
const MinSecretBytes = 16

var placeholderSecrets = []string{"change-me", "changeme", "secret"}

// SecretUsable reports whether secret may sign admin tokens.
func SecretUsable(secret []byte) bool {
	if len(secret) < MinSecretBytes {
		return false
	}
	for _, p := range placeholderSecrets {
		if strings.EqualFold(string(secret), p) {
			return false
		}
	}
	return true
}

// Admin is the single account allowed into the dashboard.
type Admin struct {
	Username     string
	PasswordHash string
}

// Service provides authentication operations.
type Service struct {
	admin     Admin
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(admin Admin, jwtConfig *JWTConfig) *Service {
	admin.Username = strings.TrimSpace(admin.Username)
	return &Service{
		admin:     admin,
		jwtConfig: jwtConfig,
	}
}

// Enabled reports whether an admin password and a usable signing secret are configured.
func (s *Service) Enabled() bool {
	return s.admin.PasswordHash != "" && s.jwtConfig != nil && SecretUsable(s.jwtConfig.Secret)
}

// Login validates credentials and returns a JWT token.
func (s *Service) Login(username, password string) (string, error) {
	if !s.Enabled() {
		return "", ErrAdminDisabled
	}

	username = strings.TrimSpace(username)
	nameOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.admin.Username)) == 1
	// Always run bcrypt so an unknown username costs the same.
	pwErr := ComparePassword(s.admin.PasswordHash, password)
	if !nameOK || pwErr != nil {
		return "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.jwtConfig, s.admin.Username)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	if !s.Enabled() {
		return nil, ErrAdminDisabled
	}
	return ValidateToken(s.jwtConfig, tokenString)
}
