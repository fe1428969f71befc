package server

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/webgis/internal/api"
	"golang.org/x/crypto/bcrypt"
)

// SessionCookie is the name of the session cookie.
const SessionCookie = "webgis_session"

const userKey = "user"

// Privileges checked by the layer endpoints.
const (
	PrivManageLayers = "canManageLayers"
	PrivAddLayers    = "canAddNewLayers"
)

var errInvalidSession = errors.New("invalid session")

type sessionClaims struct {
	Privileges map[string]bool `json:"privileges,omitempty"`
	Name       string          `json:"name"`
	Role       string          `json:"role"`
	jwt.RegisteredClaims
}

var randRead = rand.Read

func randomSecret() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := randRead(b); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	return b, nil
}

func (s *ServerContext) issueToken(u api.User) (string, error) {
	now := s.now()
	claims := sessionClaims{
		Privileges: u.Privileges,
		Name:       u.Name,
		Role:       u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.Config.Server.SessionTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *ServerContext) parseToken(token string) (*api.User, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errInvalidSession
	}
	return &api.User{
		Privileges: claims.Privileges,
		Username:   claims.Subject,
		Name:       claims.Name,
		Role:       claims.Role,
	}, nil
}

// sessionUser returns the user of a valid session cookie.
func (s *ServerContext) sessionUser(c *gin.Context) (*api.User, bool) {
	token, err := c.Cookie(SessionCookie)
	if err != nil || token == "" {
		return nil, false
	}
	u, err := s.parseToken(token)
	if err != nil {
		log.Debug().Err(err).Msg("Session rejected")
		return nil, false
	}
	return u, true
}

// RequireAuth rejects API calls without a valid session.
func (s *ServerContext) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := s.sessionUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Autenticação necessária"})
			return
		}
		c.Set(userKey, u)
		c.Next()
	}
}

func currentUser(c *gin.Context) *api.User {
	if v, ok := c.Get(userKey); ok {
		if u, ok := v.(*api.User); ok {
			return u
		}
	}
	return &api.User{}
}

func allowed(u *api.User, privilege string) bool {
	return u.Role == "admin" || u.Privileges[privilege]
}

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// HandleLogin checks credentials posted as JSON or a form and sets the
// session cookie.
func (s *ServerContext) HandleLogin(c *gin.Context) {
	var req loginRequest
	if strings.HasPrefix(c.ContentType(), "application/json") {
		_ = c.ShouldBindJSON(&req)
	} else {
		_ = c.ShouldBind(&req)
	}

	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Por favor, preencha todos os campos"})
		return
	}

	acct, ok := s.Config.FindUser(req.Username)
	if !ok || bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(req.Password)) != nil {
		log.Warn().Str("username", req.Username).Str("ip", c.ClientIP()).Msg("Login failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Usuário ou senha incorretos"})
		return
	}

	token, err := s.issueToken(api.User{
		Privileges: acct.Privileges,
		Username:   acct.Username,
		Name:       acct.Name,
		Role:       acct.Role,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to sign session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erro interno do servidor"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, token, int(s.Config.Server.SessionTTL.Seconds()), "/", "", false, true)

	log.Info().Str("username", acct.Username).Msg("User logged in")
	c.JSON(http.StatusOK, gin.H{"success": true, "redirect": "/"})
}

// HandleLogout clears the session and redirects to the login page.
func (s *ServerContext) HandleLogout(c *gin.Context) {
	c.SetCookie(SessionCookie, "", -1, "/", "", false, true)
	c.Redirect(http.StatusFound, "/login")
}

// HandleAuthCheck reports the session state.
func (s *ServerContext) HandleAuthCheck(c *gin.Context) {
	u, ok := s.sessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, api.AuthStatus{User: u, Authenticated: true})
}

// HashPassword returns the bcrypt hash stored in the users section of the
// configuration.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(h), err
}
