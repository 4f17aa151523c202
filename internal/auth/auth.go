// Package auth guards the service with a shared secret exchanged for a session cookie.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/pbkdf2"

	"github.com/devcubo3/trabalho-mae/internal/types"
)

const (
	authCookie    = "extratorSession"
	sessionMaxAge = 30 * 24 * time.Hour
	kdfIterations = 10000
)

var kdfSalt = []byte("extrator-session")

type (
	secret []byte

	Authorizer struct {
		secret secret
	}

	Login struct {
		Secret string `form:"secretKey" json:"secretKey" binding:"required"`
	}
)

// New returns an Authorizer for sharedSecret, or Open when it is empty.
func New(sharedSecret string) (types.Authorizer, error) {
	if sharedSecret == "" {
		return Open{}, nil
	}
	ss, err := parseSecret([]byte(sharedSecret))
	if err != nil {
		return nil, err
	}
	return &Authorizer{secret: ss}, nil
}

// StartSession checks the posted secret and sets the session cookie.
func (a *Authorizer) StartSession(c *gin.Context) {
	var login Login
	if err := c.ShouldBind(&login); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := parseSecret([]byte(login.Secret))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid secret"})
		return
	}
	if !isSecretsEqual(s, a.secret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Incorrect secret"})
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     authCookie,
		Value:    base64.StdEncoding.EncodeToString(a.secret),
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(sessionMaxAge),
	})
	c.Status(http.StatusOK)
}

func (a *Authorizer) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func (a *Authorizer) Authenticate(r *http.Request) bool {
	cookie, err := r.Cookie(authCookie)
	if err != nil {
		return false
	}
	s, err := getSecretFromBase64(cookie.Value)
	if err != nil {
		return false
	}
	return isSecretsEqual(s, a.secret)
}

// Open lets every request through; it is used when no shared secret is configured.
type Open struct{}

func (Open) StartSession(c *gin.Context) { c.Status(http.StatusOK) }

func (Open) ClearSession(http.ResponseWriter) {}

func (Open) Authenticate(*http.Request) bool { return true }

func getSecretFromBase64(b64encoded string) (secret, error) {
	if len(b64encoded) == 0 {
		return secret{}, errors.New("invalid secret")
	}
	decoded, err := base64.StdEncoding.DecodeString(b64encoded)
	if err != nil {
		return secret{}, err
	}
	return secret(decoded), nil
}

func parseSecret(key []byte) (secret, error) {
	if len(key) == 0 {
		return secret{}, errors.New("secret key is empty")
	}
	return secret(pbkdf2.Key(key, kdfSalt, kdfIterations, 32, sha256.New)), nil
}

func isSecretsEqual(a, b secret) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
