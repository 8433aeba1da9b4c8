package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-billswift/internal/common"
)

// Private claims carried by access tokens next to the subject.
const (
	ClaimEmployeeCode = "employee_code"
	ClaimRole         = "role"
)

// TokenValidator checks issuer, audience, lifetime, algorithm and the
// principal claims of an access token.
type TokenValidator struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Algorithm jwa.SignatureAlgorithm
}

// Validate ensures the token was issued for this API and still carries a
// usable principal.
func (v TokenValidator) Validate(tok jwt.Token, algorithm jwa.SignatureAlgorithm, now time.Time) error {
	if tok == nil {
		return errors.New("auth: token is nil")
	}
	if algorithm == "" {
		return errors.New("auth: token missing algorithm")
	}
	if v.Algorithm != "" && algorithm != v.Algorithm {
		return fmt.Errorf("auth: unexpected token algorithm %s", algorithm)
	}

	options := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithRequiredClaim(jwt.SubjectKey),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
	}
	if v.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(v.ClockSkew))
	}
	if v.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		options = append(options, jwt.WithAudience(v.Audience))
	}
	if err := jwt.Validate(tok, options...); err != nil {
		return err
	}
	_, err := principalFromToken(tok)
	return err
}

// principalFromToken reads the subject, employee code and role. A missing
// role means an ordinary user.
func principalFromToken(tok jwt.Token) (common.Principal, error) {
	p := common.Principal{ID: tok.Subject(), Role: common.RoleUser}
	if p.ID == "" {
		return common.Principal{}, errors.New("auth: token missing subject")
	}
	if raw, ok := tok.Get(ClaimEmployeeCode); ok {
		code, ok := raw.(string)
		if !ok {
			return common.Principal{}, errors.New("auth: employee_code claim must be a string")
		}
		p.EmployeeCode = code
	}
	if raw, ok := tok.Get(ClaimRole); ok {
		role, _ := raw.(string)
		switch role {
		case common.RoleAdmin, common.RoleUser:
			p.Role = role
		default:
			return common.Principal{}, fmt.Errorf("auth: unknown role %q", role)
		}
	}
	return p, nil
}
