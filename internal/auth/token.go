package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/square/go-jose/v3"
	"github.com/square/go-jose/v3/jwt"
	"golang.org/x/crypto/hkdf"
)

// TokenType is the OAuth2 token type returned alongside access tokens.
const TokenType = "bearer"

const signingKeyInfo = "expenses access token signing key"

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrTokenExpired   = errors.New("token expired")
	ErrMissingClaims  = errors.New("token is missing required claims")
)

// Claims is the identity carried by an access token.
type Claims struct {
	UserID    int64
	Username  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type privateClaims struct {
	ID int64 `json:"id,omitempty"`
}

// TokenCodec signs and verifies HS256 access tokens.
type TokenCodec struct {
	signer jose.Signer
	key    []byte
	ttl    time.Duration
}

// DeriveSigningKey stretches the configured secret into a 32 byte HMAC key.
func DeriveSigningKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("derive signing key: empty secret")
	}
	h := hkdf.New(sha256.New, []byte(secret), nil, []byte(signingKeyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return key, nil
}

func NewTokenCodec(secret string, ttl time.Duration) (*TokenCodec, error) {
	key, err := DeriveSigningKey(secret)
	if err != nil {
		return nil, err
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	return &TokenCodec{signer: signer, key: key, ttl: ttl}, nil
}

// TTL returns the lifetime of issued tokens.
func (c *TokenCodec) TTL() time.Duration { return c.ttl }

// Issue signs a token for the user valid from now for the codec's TTL.
func (c *TokenCodec) Issue(userID int64, username string, now time.Time) (string, error) {
	now = now.UTC().Truncate(time.Second)
	std := jwt.Claims{
		Subject:  username,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(c.ttl)),
	}
	token, err := jwt.Signed(c.signer).Claims(std).Claims(privateClaims{ID: userID}).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Parse verifies the signature and expiry of token at time now.
func (c *TokenCodec) Parse(token string, now time.Time) (Claims, error) {
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if len(parsed.Headers) != 1 || parsed.Headers[0].Algorithm != string(jose.HS256) {
		return Claims{}, fmt.Errorf("%w: unexpected signing algorithm", ErrMalformedToken)
	}

	var (
		std  jwt.Claims
		priv privateClaims
	)
	if err := parsed.Claims(c.key, &std, &priv); err != nil {
		return Claims{}, fmt.Errorf("verify token: %w", err)
	}
	if std.Expiry == nil {
		return Claims{}, ErrMissingClaims
	}
	if err := std.ValidateWithLeeway(jwt.Expected{Time: now}, 0); err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("validate claims: %w", err)
	}
	if std.Subject == "" || priv.ID <= 0 {
		return Claims{}, ErrMissingClaims
	}

	claims := Claims{
		UserID:    priv.ID,
		Username:  std.Subject,
		ExpiresAt: std.Expiry.Time(),
	}
	if std.IssuedAt != nil {
		claims.IssuedAt = std.IssuedAt.Time()
	}
	return claims, nil
}
