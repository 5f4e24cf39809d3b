package rest

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/identity"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/telemetry"
	identitysvc "github.com/davidleathers/workforce-analytics-backend/internal/service/identity"
)

// DefaultIssuer is the iss claim of issued tokens
const DefaultIssuer = "wfa-api"

// Claims represents JWT claims. The token only names a session; role and
// liveness are always read back from the session store.
type Claims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	SessionID string `json:"sid"`
}

// TokenIssuer signs and verifies HS256 bearer tokens
type TokenIssuer struct {
	secret []byte
	issuer string
}

func NewTokenIssuer(secret []byte, issuer string) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, stderrors.New("jwt secret is required")
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &TokenIssuer{secret: secret, issuer: issuer}, nil
}

// Issue signs a token that expires with the session
func (t *TokenIssuer) Issue(sess *identity.Session) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   sess.Username,
			ID:        sess.SessionID,
			IssuedAt:  jwt.NewNumericDate(sess.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
		Role:      sess.Role.String(),
		SessionID: sess.SessionID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, issuer and expiry
func (t *TokenIssuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.SessionID == "" {
		return nil, stderrors.New("token carries no session")
	}
	return claims, nil
}

// AuthMiddleware resolves bearer tokens to live sessions
type AuthMiddleware struct {
	tokens *TokenIssuer
	users  identitysvc.Service
	tracer trace.Tracer
	resp   responder
}

func NewAuthMiddleware(tokens *TokenIssuer, users identitysvc.Service, resp responder) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		users:  users,
		tracer: telemetry.Tracer("api.rest.auth"),
		resp:   resp,
	}
}

// Require authenticates the request and, when actions are given, checks that the
// session's role permits all of them.
func (a *AuthMiddleware) Require(actions ...identity.Action) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := a.tracer.Start(r.Context(), "auth.middleware")
			defer span.End()

			token, ok := bearerToken(r)
			if !ok {
				a.resp.writeError(w, r, errors.NewUnauthorizedError("Invalid authorization header"))
				return
			}

			claims, err := a.tokens.Parse(token)
			if err != nil {
				telemetry.RecordError(span, err)
				a.resp.writeError(w, r, errors.NewUnauthorizedError("Invalid or expired token"))
				return
			}

			sess, err := a.users.Session(ctx, claims.SessionID)
			if err != nil {
				telemetry.RecordError(span, err)
				a.resp.writeError(w, r, err)
				return
			}
			if sess.Username != claims.Subject {
				a.resp.writeError(w, r, errors.NewUnauthorizedError("Invalid session"))
				return
			}

			span.SetAttributes(
				attribute.String("user.name", sess.Username),
				attribute.String("user.role", sess.Role.String()),
			)

			for _, action := range actions {
				if !sess.Can(action) {
					a.resp.writeError(w, r, errors.NewForbiddenError("your role does not permit this action"))
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(withSession(ctx, sess)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
