package access

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"seance/domain"
	seanceerrors "seance/errors"
)

// Identity is the verified (user_id, display_name) pair supplied by the
// external identity provider. The core trusts the provider's signature but
// performs no authentication of its own.
type Identity struct {
	UserID      string
	DisplayName string

	// Operator marks ops tooling. Operators may force-close any session;
	// the provider sets the claim, the core only honors it.
	Operator bool
}

// IdentityClaims is the shape of tokens minted by the identity provider.
type IdentityClaims struct {
	DisplayName string `json:"display_name"`
	Operator    bool   `json:"operator,omitempty"`
	jwt.RegisteredClaims
}

// MediaClaims is the capability token forwarded to the external media
// service. It grants one user audio/video transport inside one session and
// nothing else; the media service handles the packets.
type MediaClaims struct {
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// TokenService verifies identity tokens and issues media capability tokens.
// Both use HS256 with secrets shared out-of-band with the respective
// external service.
type TokenService struct {
	identitySecret []byte
	mediaSecret    []byte
	mediaTTL       time.Duration
	issuer         string
	now            func() time.Time
}

func NewTokenService(identitySecret, mediaSecret []byte, mediaTTL time.Duration) *TokenService {
	return &TokenService{
		identitySecret: identitySecret,
		mediaSecret:    mediaSecret,
		mediaTTL:       mediaTTL,
		issuer:         "seance",
		now:            time.Now,
	}
}

// VerifyIdentity parses and validates an identity-provider token, returning
// the verified identity.
func (s *TokenService) VerifyIdentity(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.identitySecret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", seanceerrors.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*IdentityClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Identity{}, seanceerrors.ErrUnauthorized
	}
	return Identity{UserID: claims.Subject, DisplayName: claims.DisplayName, Operator: claims.Operator}, nil
}

// IssueMediaToken creates a short-lived signed capability for the media
// service. The core only issues and forwards; transport stays external.
func (s *TokenService) IssueMediaToken(sessionID domain.SessionID, userID string) (string, error) {
	now := s.now()
	claims := &MediaClaims{
		SessionID: string(sessionID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.mediaTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.mediaSecret)
	if err != nil {
		return "", seanceerrors.ErrTokenGeneration
	}
	return signed, nil
}

// MintIdentityToken signs an identity token the way the provider would.
// Test and local-dev helper; production tokens come from the provider.
func (s *TokenService) MintIdentityToken(identity Identity, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &IdentityClaims{
		DisplayName: identity.DisplayName,
		Operator:    identity.Operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "identity-provider",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.identitySecret)
}
