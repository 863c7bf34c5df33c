// Package auth guards the admin API. Two credentials are accepted: the
// static API key, meant for scripts and the dashboard's websocket, and a
// short-lived JWT minted by password login.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/streamfall/streamfall/internal/config"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoPasswordSet      = errors.New("no password has been set")
	ErrPasswordRequired   = errors.New("password is required")
)

const tokenExpiry = 24 * time.Hour

// Claims represents JWT claims.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service validates API keys and mints and checks login tokens. Credentials
// come from configuration; missing ones are generated per process so a bare
// install is never unauthenticated.
type Service struct {
	apiKey       string
	jwtSecret    []byte
	username     string
	passwordHash string
	logger       zerolog.Logger
}

// NewService builds the auth service from configuration. An empty API key
// is replaced with a random one and logged once; an empty JWT secret is
// also generated, which rotates tokens across restarts.
func NewService(cfg config.AuthConfig, logger zerolog.Logger) (*Service, error) {
	s := &Service{
		apiKey:       cfg.APIKey,
		jwtSecret:    []byte(cfg.JWTSecret),
		username:     cfg.Username,
		passwordHash: cfg.PasswordHash,
		logger:       logger.With().Str("component", "auth").Logger(),
	}
	if s.username == "" {
		s.username = "admin"
	}

	if s.apiKey == "" {
		key, err := GenerateAPIKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate API key: %w", err)
		}
		s.apiKey = key
		s.logger.Info().Str("apiKey", key).Msg("No API key configured, generated one for this run")
	}

	if len(s.jwtSecret) == 0 {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		s.jwtSecret = secret
	}

	return s, nil
}

// APIKey returns the effective API key, configured or generated.
func (s *Service) APIKey() string {
	return s.apiKey
}

// VerifyAPIKey reports whether key matches the configured one.
func (s *Service) VerifyAPIKey(key string) bool {
	if key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) == 1
}

// Login checks the dashboard credential and returns a fresh token.
func (s *Service) Login(username, password string) (string, error) {
	if s.passwordHash == "" {
		return "", ErrNoPasswordSet
	}
	if username != s.username {
		// Burn a comparison anyway so a wrong username costs the same.
		_ = bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password))
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.GenerateToken(username)
}

// GenerateToken creates a new JWT token for the named user.
func (s *Service) GenerateToken(username string) (string, error) {
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "streamfall",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// Middleware rejects requests that carry neither a valid API key nor a
// valid bearer token. The key is also accepted as an "apikey" query
// parameter for websocket clients, which cannot set headers.
func (s *Service) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if s.authorized(c) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid credentials")
		}
	}
}

func (s *Service) authorized(c echo.Context) bool {
	if s.VerifyAPIKey(c.Request().Header.Get("X-Api-Key")) {
		return true
	}
	if s.VerifyAPIKey(c.QueryParam("apikey")) {
		return true
	}
	if token, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer "); ok {
		if _, err := s.ValidateToken(token); err == nil {
			return true
		}
	}
	return false
}

// HashPassword bcrypt-hashes a dashboard password for storage in the
// config file.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrPasswordRequired
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// GenerateAPIKey generates a random API key.
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}
