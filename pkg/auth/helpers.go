package auth

import (
	"context"
	"net/http"
	"time"

	gojwt "github.com/dgrijalva/jwt-go/v4"
	"github.com/rotisserie/eris"
	guardian "github.com/shaj13/go-guardian/v2/auth"
	"github.com/shaj13/go-guardian/v2/auth/strategies/jwt"
	"github.com/shaj13/libcache"
	"github.com/zpatrick/rbac"

	// Provides libcache.LRU
	_ "github.com/shaj13/libcache/lru"

	"github.com/quartermile/ledgerd/pkg/config"
)

var (
	// ErrUnauthenticated is returned if the request carried no valid session token
	ErrUnauthenticated = eris.New("token missing or invalid")

	// ErrPermissionDenied is returned if the authenticated operator lacks a permission
	ErrPermissionDenied = eris.New("permission denied")

	// ErrAuthCtxMissing is returned if the request didn't contain an authContext
	ErrAuthCtxMissing = eris.New("auth context missing")
)

type authPtr struct{}

// authContext carries authentication *and* authorization state through a request
type authContext struct {
	request    *http.Request
	auth       *guardian.Strategy
	jwtSecrets *jwt.StaticSecret
	tokenTTL   time.Duration
	user       guardian.Info
	role       rbac.Role
}

// MakeAuthMiddleware constructs the middleware required for operator sessions
func MakeAuthMiddleware(cfg *config.Config, next http.Handler) http.Handler {
	cache := libcache.LRU.New(0)
	secrets := jwt.StaticSecret{
		ID:     "ledgerd",
		Method: gojwt.SigningMethodHS256,
		Secret: []byte(cfg.Auth.Secret),
	}
	strategy := jwt.New(cache, secrets)
	ttl := time.Duration(cfg.Auth.TokenTTL) * time.Second

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = context.WithValue(ctx, authPtr{}, &authContext{
			request:    r,
			auth:       &strategy,
			jwtSecrets: &secrets,
			tokenTTL:   ttl,
		})

		r = r.WithContext(ctx)
		next.ServeHTTP(w, r)
	})
}

func getAuthContext(ctx context.Context) (*authContext, error) {
	authCtxPtr := ctx.Value(authPtr{})
	if authCtxPtr == nil {
		return nil, ErrAuthCtxMissing
	}

	return authCtxPtr.(*authContext), nil
}

// IssueToken generates a new session token for the given operator
func IssueToken(ctx context.Context, username string, roles []string) (string, error) {
	authCtx, err := getAuthContext(ctx)
	if err != nil {
		return "", err
	}

	user := guardian.NewUserInfo(username, username, roles, nil)
	return jwt.IssueAccessToken(user, *authCtx.jwtSecrets, jwt.SetExpDuration(authCtx.tokenTTL))
}

// GetUser returns the current operator info
func GetUser(ctx context.Context) (guardian.Info, error) {
	authCtx, err := getAuthContext(ctx)
	if err != nil {
		return nil, err
	}

	if authCtx.user == nil {
		authCtx.user, err = (*authCtx.auth).Authenticate(ctx, authCtx.request)
		if err != nil {
			return nil, eris.Wrap(ErrUnauthenticated, err.Error())
		}
	}
	return authCtx.user, nil
}

// GetRole checks authentication if necessary and returns the operator's role
func GetRole(ctx context.Context) (*rbac.Role, error) {
	authCtx, err := getAuthContext(ctx)
	if err != nil {
		return nil, err
	}

	if authCtx.role.RoleID == "" {
		user, err := GetUser(ctx)
		if err != nil {
			return nil, err
		}

		groups := user.GetGroups()
		if len(groups) == 0 {
			return nil, ErrInvalidRole
		}

		authCtx.role, err = getRbacRole(groups[0])
		if err != nil {
			return nil, err
		}
	}

	return &authCtx.role, nil
}

// CheckPermission verifies that the currently authenticated operator has the given permission
func CheckPermission(ctx context.Context, perm Permission, bag interface{}) error {
	role, err := GetRole(ctx)
	if err != nil {
		return err
	}

	encBag, err := MarshalBag(bag)
	if err != nil {
		return err
	}

	allowed, err := role.Can(string(perm), encBag)
	if err != nil {
		return err
	}

	if !allowed {
		return ErrPermissionDenied
	}

	return nil
}
