package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cora-robotics/cora-server/internal/conf"
)

// JWTService implements Service with HMAC-signed bearer tokens.
type JWTService struct {
	secret   []byte
	tokenTTL time.Duration
	enabled  bool
	issuer   string
}

// NewJWTService builds the token service from the auth settings.
func NewJWTService(settings *conf.Settings) *JWTService {
	return &JWTService{
		secret:   []byte(settings.Auth.Secret),
		tokenTTL: time.Duration(settings.Auth.TokenTTL) * time.Minute,
		enabled:  settings.Auth.Enabled,
		issuer:   settings.Main.Name,
	}
}

// Enabled reports whether token checks are enforced.
func (s *JWTService) Enabled() bool {
	return s.enabled
}

// Authenticate validates the Bearer token on the request.
func (s *JWTService) Authenticate(ctx echo.Context) (*Principal, error) {
	header := ctx.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return nil, authError("missing Authorization header")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, authError("invalid Authorization header format, expected 'Bearer {token}'")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, authError("unexpected token signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, authError("invalid or expired token")
	}

	return &Principal{
		Subject: claims.Subject,
		TokenID: claims.ID,
	}, nil
}

// Authorize grants every authenticated principal access to read resources.
// Finer-grained policies can hook in here without touching the API layer.
func (s *JWTService) Authorize(principal *Principal, resource string) bool {
	return principal != nil
}

// IssueToken mints a signed token for the subject.
func (s *JWTService) IssueToken(subject string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", authError("failed to sign token")
	}
	return signed, nil
}
