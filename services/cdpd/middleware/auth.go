package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"

	"cdpchain/observability/logging"
)

// Scopes understood by the daemon. Reads need no scope.
const (
	ScopeWrite = "cdp:write"
	ScopeAdmin = "cdp:admin"
)

type AuthConfig struct {
	HMACSecret     string
	Issuer         string
	Audience       string
	AllowAnonymous bool
	ClockSkew      time.Duration
}

// Principal is the caller a validated token speaks for. Borrower, depositor
// and staker operations all act on Account.
type Principal struct {
	Account common.Address
	Scopes  []string
}

// Has reports whether every scope in required was granted.
func (p Principal) Has(required ...string) bool {
	for _, scope := range required {
		if !slices.Contains(p.Scopes, scope) {
			return false
		}
	}
	return true
}

type principalKey struct{}

var (
	errNoSecret   = errors.New("auth secret not configured")
	errBadSubject = errors.New("subject is not an account address")
)

// scopeList accepts both the space separated OAuth form and a JSON array.
type scopeList []string

func (s *scopeList) UnmarshalJSON(data []byte) error {
	var joined string
	if err := json.Unmarshal(data, &joined); err == nil {
		*s = strings.Fields(joined)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = list
	return nil
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Scope scopeList `json:"scope,omitempty"`
}

// Authenticator validates HMAC signed bearer tokens whose subject is the
// hex address of the calling account.
type Authenticator struct {
	allowAnonymous bool
	logger         *slog.Logger
	secret         []byte
	parser         *jwt.Parser
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(cfg.ClockSkew),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Authenticator{
		allowAnonymous: cfg.AllowAnonymous,
		logger:         logger,
		secret:         []byte(strings.TrimSpace(cfg.HMACSecret)),
		parser:         jwt.NewParser(opts...),
	}
}

// Optional admits anonymous requests when anonymous reads are allowed. A
// presented token must still be valid.
func (a *Authenticator) Optional() func(http.Handler) http.Handler {
	return a.middleware(a.allowAnonymous, nil)
}

// Require rejects requests without a valid token carrying every scope.
func (a *Authenticator) Require(scopes ...string) func(http.Handler) http.Handler {
	return a.middleware(false, scopes)
}

func (a *Authenticator) middleware(anonymousOK bool, scopes []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := bearerToken(header)
			if !ok {
				if anonymousOK {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			principal, err := a.authenticate(raw)
			if err != nil {
				a.logger.Warn("auth: token rejected",
					slog.String("path", r.URL.Path),
					logging.MaskField("authorization", header),
					slog.Any("error", err),
				)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if !principal.Has(scopes...) {
				http.Error(w, "insufficient scope", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, principal)))
		})
	}
}

func (a *Authenticator) authenticate(raw string) (Principal, error) {
	if len(a.secret) == 0 {
		return Principal{}, errNoSecret
	}
	var claims tokenClaims
	_, err := a.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !common.IsHexAddress(claims.Subject) {
		return Principal{}, errBadSubject
	}
	account := common.HexToAddress(claims.Subject)
	if account == (common.Address{}) {
		return Principal{}, errBadSubject
	}
	return Principal{Account: account, Scopes: claims.Scope}, nil
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// AccountFromContext returns the authenticated account, if any.
func AccountFromContext(ctx context.Context) (common.Address, bool) {
	p, ok := PrincipalFromContext(ctx)
	return p.Account, ok
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
