package ws

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/wanderers-live/merchant-tracker/internal/model"
)

// HashClientID turns a network address into a stable opaque client
// identity, so raw addresses are never stored.
func HashClientID(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	sum := sha256.Sum256([]byte(host))
	return hex.EncodeToString(sum[:])
}

// resolveCaller builds the caller identity from the request: the hashed
// network identity always, plus the authenticated user id when the caller
// presented a valid bearer token. Identity issuance is external; only
// validation happens here, at the transport edge.
func resolveCaller(r *http.Request, signKey []byte) model.CallerIdentity {
	caller := model.CallerIdentity{ClientID: HashClientID(r.RemoteAddr)}
	tok := bearerTokenFromRequest(r)
	if tok == "" {
		return caller
	}
	if id, err := userIDFromToken(tok, signKey); err == nil {
		caller.UserID = uuid.NullUUID{UUID: id, Valid: true}
	}
	return caller
}

func bearerTokenFromRequest(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		if t := strings.TrimSpace(v[7:]); t != "" {
			return t
		}
	}
	// Browser websocket clients cannot set headers on the upgrade request.
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// userIDFromToken verifies an HS256 token and returns its subject as a UUID.
func userIDFromToken(tok string, signKey []byte) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return signKey, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, errors.New("invalid token")
	}

	v := jwt.NewValidator(jwt.WithLeeway(30 * time.Second))
	if err := v.Validate(&claims); err != nil {
		return uuid.Nil, errors.New("token expired or not valid yet")
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, errors.New("bad subject")
	}
	return id, nil
}
