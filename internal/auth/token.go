package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenIssuer is checked on every Parse so tokens minted by another app
// sharing the secret are rejected.
const tokenIssuer = "pong-backend"

// MinSecretLength is the shortest HMAC key NewTokenService accepts.
const MinSecretLength = 16

// ErrInvalidToken covers every reason a session token is refused: bad
// signature, wrong issuer, expired, malformed subject.
var ErrInvalidToken = errors.New("auth: invalid session token")

// TokenService signs and verifies the session cookie value.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Payload: {"iss":"pong-backend","sub":"42","jti":"<session id>","exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, SECRET_KEY)
//
// The signature proves the cookie was issued by this server. The jti ties
// it to a row in the sessions table, so logout can revoke it before exp.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: secret must be at least %d characters", MinSecretLength)
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// SessionClaims is what a valid token proves.
type SessionClaims struct {
	UserID    int64
	SessionID string
}

// Issue signs a token for userID bound to sessionID that expires at expiresAt.
func (s *TokenService) Issue(userID int64, sessionID string, expiresAt time.Time) (string, error) {
	c := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   strconv.FormatInt(userID, 10),
		ID:        sessionID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its claims.
//
// ALGORITHM CONFUSION ATTACK:
// Without checking the algorithm, an attacker could send a token signed with
// "none" and the library might accept it. jwt.WithValidMethods prevents this.
func (s *TokenService) Parse(tokenStr string) (SessionClaims, error) {
	var c jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(
		tokenStr,
		&c,
		func(token *jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return SessionClaims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return SessionClaims{}, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, c.Subject)
	}
	if c.ID == "" {
		return SessionClaims{}, fmt.Errorf("%w: missing session id", ErrInvalidToken)
	}

	return SessionClaims{UserID: userID, SessionID: c.ID}, nil
}
