package grpcsig

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	authorizationKey = "authorization"
	sessionClaim     = "session"
)

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return uuid.New().String()
}

// TokenIssuer signs and checks session tokens (HS256 JWTs).
type TokenIssuer struct {
	Secret []byte
	// TTL of issued tokens. Zero means no expiry.
	TTL time.Duration
}

// Issue returns a token granting access to session.
func (i *TokenIssuer) Issue(session string) (string, error) {
	if len(i.Secret) == 0 {
		return "", errors.New("grpcsig: empty token secret")
	}
	claims := jwt.MapClaims{
		sessionClaim: session,
		"iat":        time.Now().Unix(),
	}
	if i.TTL > 0 {
		claims["exp"] = time.Now().Add(i.TTL).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Secret)
}

// Verify returns the session a token grants.
func (i *TokenIssuer) Verify(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return i.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unexpected claims type")
	}
	session, ok := claims[sessionClaim].(string)
	if !ok || session == "" {
		return "", errors.New("token has no session")
	}
	return session, nil
}

// sessionFromContext authenticates an incoming stream.
func (i *TokenIssuer) sessionFromContext(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Errorf(codes.Unauthenticated, "missing metadata")
	}
	values := md.Get(authorizationKey)
	if len(values) == 0 {
		return "", status.Errorf(codes.Unauthenticated, "missing authorization")
	}
	token, found := strings.CutPrefix(values[0], "Bearer ")
	if !found {
		return "", status.Errorf(codes.Unauthenticated, "authorization is not a bearer token")
	}
	session, err := i.Verify(token)
	if err != nil {
		return "", status.Errorf(codes.Unauthenticated, "invalid token: %v", err)
	}
	return session, nil
}

func withToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, authorizationKey, fmt.Sprintf("Bearer %s", token))
}
