package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mediconnect/consult-relay/internal/chat"
	"github.com/mediconnect/consult-relay/internal/normalize"
)

// JWTManager signs and validates the tokens used by both transports. With a
// key ring, tokens carry a kid header and any key in the ring verifies.
type JWTManager struct {
	keys      map[string][]byte // HMAC secrets by kid; "" is the single-secret setup
	activeKid string            // Key that signs new tokens; the others only verify
	duration  time.Duration     // How long tokens are valid (e.g., 24 hours)
}

// Claims is the token payload.
type Claims struct {
	UserID               string    `json:"user_id"` // MongoDB ObjectID as a hex string
	Email                string    `json:"email"`   // Normalized, for logs and rate-limit keys
	Role                 chat.Role `json:"role"`    // patient or provider
	jwt.RegisteredClaims           // Includes ExpiresAt, IssuedAt, Subject
}

// NewJWTManager returns a manager with a single unnamed key.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return &JWTManager{
		keys:     map[string][]byte{"": []byte(secretKey)},
		duration: duration,
	}
}

// NewJWTManagerFromKeys returns a manager that signs with activeKid and
// verifies with any key in keys.
func NewJWTManagerFromKeys(keys map[string]string, activeKid string, duration time.Duration) *JWTManager {
	ring := make(map[string][]byte, len(keys))
	for kid, secret := range keys {
		ring[kid] = []byte(secret)
	}
	return &JWTManager{keys: ring, activeKid: activeKid, duration: duration}
}

// GenerateToken issues a signed token for a user.
func (m *JWTManager) GenerateToken(userID, email string, role chat.Role) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.duration)

	claims := &Claims{
		UserID: userID,
		Email:  normalize.Email(email),
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	// HS256 (HMAC with SHA-256); the kid header tells verifiers which key to use
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.activeKid != "" {
		token.Header["kid"] = m.activeKid
	}
	key, ok := m.keys[m.activeKid]
	if !ok {
		return "", time.Time{}, fmt.Errorf("no signing key for kid %q", m.activeKid)
	}

	signed, err := token.SignedString(key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Reject tokens signed with anything but HMAC (e.g. "none" or RS256 confusion)
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		// Tokens without a kid predate rotation and map to the "" key
		kid, _ := token.Header["kid"].(string)
		key, ok := m.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// VerifyIdentity makes JWTManager a chat.Verifier.
func (m *JWTManager) VerifyIdentity(token string) (chat.Identity, error) {
	claims, err := m.VerifyToken(token)
	if err != nil {
		reason := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = "token expired"
		}
		return chat.Identity{}, &chat.AuthError{Reason: reason, Err: err}
	}
	return claims.Identity(), nil
}

// Identity returns the chat identity the claims describe.
func (c *Claims) Identity() chat.Identity {
	return chat.Identity{ID: c.UserID, Role: c.Role}
}

// HashPassword returns a bcrypt hash for the provided plaintext.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
