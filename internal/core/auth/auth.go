// Package auth provides HMAC-based API key authentication for the gRPC and
// HTTP surfaces.
//
// Keys are never stored: the api_keys table holds HMAC-SHA256(secret, key)
// where the secret is selected by the secret_id embedded in the key and
// comes from RF_HMAC_SECRET*.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey string

const clientKey = contextKey("client")

// HeaderName carries the API key on HTTP requests and in gRPC metadata.
const HeaderName = "x-api-key"

// Queries is the subset of *db.Queries the authenticator uses.
type Queries interface {
	Get(ctx context.Context, name string, dest any, args ...any) error
	Exec(ctx context.Context, name string, args ...any) (sql.Result, error)
}

// Client identifies an authenticated API key.
type Client struct {
	APIKeyID string `db:"api_key_id"`
	Name     string `db:"name"`
}

// Authenticator validates API keys using HMAC-SHA256 signatures.
type Authenticator struct {
	secrets map[string][]byte
	queries Queries
	now     func() time.Time
}

// NewAuthenticator creates an authenticator with HMAC secrets and query interface.
func NewAuthenticator(secrets map[string][]byte, queries Queries) *Authenticator {
	return &Authenticator{secrets: secrets, queries: queries, now: time.Now}
}

// Authenticate validates apiKey and returns the key's client on success.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (*Client, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return nil, err
	}
	secret, ok := a.secrets[secretID]
	if !ok {
		return nil, ErrUnknownKey
	}

	var row struct {
		Client
		RevokedAt  sql.NullTime `db:"revoked_at"`
		LastUsedAt sql.NullTime `db:"last_used_at"`
	}
	err = a.queries.Get(ctx, "get-api-key-by-hash", &row, ComputeHMAC(secret, apiKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if row.RevokedAt.Valid {
		return nil, ErrKeyRevoked
	}

	// 1-minute throttle keeps active clients from writing on every request
	now := a.now().UTC()
	if !row.LastUsedAt.Valid || now.Sub(row.LastUsedAt.Time) > time.Minute {
		if _, err := a.queries.Exec(ctx, "update-last-used", now, row.APIKeyID); err != nil {
			log.WithError(err).WithField("api_key_id", row.APIKeyID).Warn("failed to update API key last use")
		}
	}

	client := row.Client
	return &client, nil
}

// IssueKey generates a key for secretID, stores its hash and returns the key.
// The key is only available to the caller of IssueKey.
func (a *Authenticator) IssueKey(ctx context.Context, name, secretID string) (string, error) {
	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}
	key, err := GenerateAPIKey(secretID)
	if err != nil {
		return "", err
	}
	id := uuid.Must(uuid.NewV7()).String()
	if _, err := a.queries.Exec(ctx, "insert-api-key", id, name, ComputeHMAC(secret, key), a.now().UTC()); err != nil {
		return "", fmt.Errorf("store API key: %w", err)
	}
	return key, nil
}

// RevokeKey marks an API key as revoked.
func (a *Authenticator) RevokeKey(ctx context.Context, apiKeyID string) error {
	res, err := a.queries.Exec(ctx, "revoke-api-key", a.now().UTC(), apiKeyID)
	if err != nil {
		return fmt.Errorf("revoke API key: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrInvalidKey
	}
	return nil
}

// UnaryInterceptor returns a gRPC interceptor that authenticates requests.
// Health checks pass without a key.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if info.FullMethod == "/grpc.health.v1.Health/Check" {
			return handler(ctx, req)
		}
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		keys := md.Get(HeaderName)
		if len(keys) == 0 {
			return nil, status.Error(codes.Unauthenticated, ErrMissingKey.Error())
		}

		client, err := a.Authenticate(ctx, keys[0])
		if err != nil {
			return nil, status.Error(grpcCode(err), err.Error())
		}
		return handler(WithClient(ctx, client), req)
	}
}

// Middleware authenticates HTTP requests carrying the X-API-Key header.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderName)
		if key == "" {
			http.Error(w, ErrMissingKey.Error(), http.StatusUnauthorized)
			return
		}
		client, err := a.Authenticate(r.Context(), key)
		if err != nil {
			http.Error(w, err.Error(), httpStatus(err))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), client)))
	})
}

// WithClient returns ctx carrying client.
func WithClient(ctx context.Context, client *Client) context.Context {
	return context.WithValue(ctx, clientKey, client)
}

// ClientFromContext returns the authenticated client, or nil.
func ClientFromContext(ctx context.Context) *Client {
	c, _ := ctx.Value(clientKey).(*Client)
	return c
}
