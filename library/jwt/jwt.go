// Package jwt signs and parses HS256 tokens for sessions and share password proofs.
package jwt

import (
	"strconv"
	"time"

	"github.com/Laisky/errors/v2"
	jwtLib "github.com/golang-jwt/jwt/v5"
)

// Instance is the process-wide signer, set by Initialize.
var Instance *JWT

// JWT signs and verifies tokens with a shared secret.
type JWT struct {
	secret []byte
	clock  func() time.Time
}

// Option customizes a JWT.
type Option func(*JWT)

// WithClock overrides the time source used for issuing and validating.
func WithClock(clock func() time.Time) Option {
	return func(j *JWT) {
		if clock != nil {
			j.clock = clock
		}
	}
}

// New builds a signer. The secret must not be empty.
func New(secret []byte, opts ...Option) (*JWT, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is empty")
	}

	j := &JWT{
		secret: append([]byte(nil), secret...),
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(j)
	}

	return j, nil
}

// Initialize sets Instance.
func Initialize(secret []byte) (err error) {
	if Instance, err = New(secret); err != nil {
		return errors.Wrap(err, "new jwt")
	}

	return nil
}

// SignUser issues a session token for the user.
func (j *JWT) SignUser(userID uint64, username string, ttl time.Duration) (string, error) {
	now := j.clock()
	claims := &UserClaims{
		RegisteredClaims: jwtLib.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			Audience:  jwtLib.ClaimStrings{audienceSession},
			IssuedAt:  jwtLib.NewNumericDate(now),
			NotBefore: jwtLib.NewNumericDate(now),
			ExpiresAt: jwtLib.NewNumericDate(now.Add(ttl)),
		},
		Username: username,
	}

	token, err := jwtLib.NewWithClaims(jwtLib.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign user token")
	}

	return token, nil
}

// ParseUser validates a session token and returns its claims.
func (j *JWT) ParseUser(token string) (*UserClaims, error) {
	claims := new(UserClaims)
	if err := j.parse(token, claims, audienceSession); err != nil {
		return nil, err
	}
	if _, err := claims.UserID(); err != nil {
		return nil, errors.Wrap(err, "invalid user token")
	}

	return claims, nil
}

// SignShareProof issues a short lived proof that the password of shareToken was verified.
func (j *JWT) SignShareProof(shareToken string, ttl time.Duration) (string, error) {
	now := j.clock()
	claims := &ShareProofClaims{
		RegisteredClaims: jwtLib.RegisteredClaims{
			Subject:   shareToken,
			Audience:  jwtLib.ClaimStrings{audienceShare},
			IssuedAt:  jwtLib.NewNumericDate(now),
			ExpiresAt: jwtLib.NewNumericDate(now.Add(ttl)),
		},
	}

	proof, err := jwtLib.NewWithClaims(jwtLib.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign share proof")
	}

	return proof, nil
}

// VerifyShareProof checks that proof is valid and bound to shareToken.
func (j *JWT) VerifyShareProof(proof, shareToken string) error {
	claims := new(ShareProofClaims)
	if err := j.parse(proof, claims, audienceShare); err != nil {
		return err
	}
	if claims.Subject != shareToken {
		return errors.New("share proof bound to another share")
	}

	return nil
}

func (j *JWT) parse(token string, claims jwtLib.Claims, audience string) error {
	if token == "" {
		return errors.New("empty token")
	}

	_, err := jwtLib.ParseWithClaims(token, claims,
		func(*jwtLib.Token) (any, error) { return j.secret, nil },
		jwtLib.WithValidMethods([]string{jwtLib.SigningMethodHS256.Alg()}),
		jwtLib.WithTimeFunc(j.clock),
		jwtLib.WithExpirationRequired(),
		jwtLib.WithAudience(audience),
	)
	if err != nil {
		return errors.Wrap(err, "parse token")
	}

	return nil
}
