package escrowd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"

	"bountyescrow/core/auth"
)

const (
	headerSigners = "X-Escrow-Signers"
	signersClaim  = "signers"
)

type principalKey struct{}

// Principal is the authenticated caller of a request.
type Principal struct {
	Subject string
	Signers []common.Address
}

func principalFrom(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}

// Authenticator turns bearer tokens into the signer set consumed by the
// engine authorizer. With auth disabled the signers are read from the
// X-Escrow-Signers header, which is only meant for local development.
type Authenticator struct {
	enabled  bool
	secret   []byte
	issuer   string
	audience string
	skew     time.Duration
	logger   *slog.Logger
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	skew := cfg.ClockSkew.Duration
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &Authenticator{
		enabled:  cfg.Enabled,
		secret:   []byte(cfg.Secret()),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		skew:     skew,
		logger:   logger,
	}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			principal Principal
			err       error
		)
		if a.enabled {
			principal, err = a.fromToken(r)
		} else {
			principal, err = fromHeader(r)
		}
		if err != nil {
			a.logger.Debug("escrowd: authentication failed", slog.String("path", r.URL.Path), slog.Any("error", err))
			writeJSON(w, http.StatusUnauthorized, errorBody{Code: "Unauthenticated", Error: err.Error()})
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		if len(principal.Signers) > 0 {
			ctx = auth.WithSigners(ctx, principal.Signers...)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) fromToken(r *http.Request) (Principal, error) {
	tokenString := extractBearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		// Read-only calls are allowed anonymously.
		if r.Method == http.MethodGet {
			return Principal{}, nil
		}
		return Principal{}, errors.New("missing bearer token")
	}
	claims, err := a.parseToken(tokenString)
	if err != nil {
		return Principal{}, err
	}
	if err := validateClaims(claims, a.issuer, a.audience); err != nil {
		return Principal{}, err
	}
	principal := Principal{}
	if sub, ok := claims["sub"].(string); ok {
		principal.Subject = sub
		if common.IsHexAddress(sub) {
			principal.Signers = append(principal.Signers, common.HexToAddress(sub))
		}
	}
	if raw, ok := claims[signersClaim].([]interface{}); ok {
		for _, entry := range raw {
			s, ok := entry.(string)
			if !ok || !common.IsHexAddress(s) {
				return Principal{}, fmt.Errorf("invalid signer %v", entry)
			}
			principal.Signers = append(principal.Signers, common.HexToAddress(s))
		}
	}
	return principal, nil
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.skew))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func fromHeader(r *http.Request) (Principal, error) {
	raw := strings.TrimSpace(r.Header.Get(headerSigners))
	if raw == "" {
		return Principal{}, nil
	}
	var principal Principal
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if !common.IsHexAddress(part) {
			return Principal{}, fmt.Errorf("invalid signer %q", part)
		}
		principal.Signers = append(principal.Signers, common.HexToAddress(part))
	}
	principal.Subject = principal.Signers[0].Hex()
	return principal, nil
}

func validateClaims(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if audience != "" {
		switch val := claims["aud"].(type) {
		case string:
			if val != audience {
				return errors.New("audience mismatch")
			}
		case []interface{}:
			matched := false
			for _, entry := range val {
				if s, ok := entry.(string); ok && s == audience {
					matched = true
					break
				}
			}
			if !matched {
				return errors.New("audience mismatch")
			}
		default:
			return errors.New("audience mismatch")
		}
	}
	return nil
}

func extractBearer(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
