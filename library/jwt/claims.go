package jwt

import (
	"strconv"

	"github.com/Laisky/errors/v2"
	jwtLib "github.com/golang-jwt/jwt/v5"
)

const (
	audienceSession = "drive-session"
	audienceShare   = "drive-share"
)

// UserClaims is the payload of a session token.
type UserClaims struct {
	jwtLib.RegisteredClaims
	Username string `json:"username"`
}

// UserID parses the numeric subject.
func (uc *UserClaims) UserID() (uint64, error) {
	if uc == nil || uc.Subject == "" {
		return 0, errors.New("empty subject")
	}
	uid, err := strconv.ParseUint(uc.Subject, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse subject %q", uc.Subject)
	}

	return uid, nil
}

// ShareProofClaims proves a share password was verified.
// Subject carries the share token the proof is bound to.
type ShareProofClaims struct {
	jwtLib.RegisteredClaims
}
