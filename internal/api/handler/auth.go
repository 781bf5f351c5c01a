package handler

import (
	"campuschat/backend/internal/config"
	"campuschat/backend/internal/models"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
)

const participantKey = "participant"

var errMissingToken = errors.New("authorization token missing")

// Claims is the identity carried by access tokens.
type Claims struct {
	UserID   string      `json:"user_id"`
	UserType models.Role `json:"user_type"`
	jwt.RegisteredClaims
}

// Authenticator issues and validates HS256 tokens.
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	return &Authenticator{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TokenTTL,
		now:    time.Now,
	}
}

// Issue signs a token for p.
func (a *Authenticator) Issue(p models.Participant) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	now := a.now()
	claims := Claims{
		UserID:   p.ID,
		UserType: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates a token and returns the participant it names.
func (a *Authenticator) Parse(token string) (models.Participant, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return models.Participant{}, err
	}
	p := models.Participant{ID: claims.UserID, Role: claims.UserType}
	if err := p.Validate(); err != nil {
		return models.Participant{}, fmt.Errorf("token identity: %w", err)
	}
	return p, nil
}

// bearerToken reads the token from the Authorization header, falling back
// to the token query parameter that browsers must use for websockets.
func bearerToken(c *gin.Context) (string, error) {
	if h := c.GetHeader("Authorization"); h != "" {
		tok, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || tok == "" {
			return "", errMissingToken
		}
		return tok, nil
	}
	if tok := c.Query("token"); tok != "" {
		return tok, nil
	}
	return "", errMissingToken
}

// RequireAuth rejects requests without a valid token and stores the
// caller's participant in the context.
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := bearerToken(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
			return
		}
		p, err := h.Auth.Parse(tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Message: "invalid or expired token"})
			return
		}
		c.Set(participantKey, p)
		c.Next()
	}
}

func caller(c *gin.Context) models.Participant {
	p, _ := c.MustGet(participantKey).(models.Participant)
	return p
}

type issueTokenRequest struct {
	UserID   string      `json:"user_id" binding:"required"`
	UserType models.Role `json:"user_type" binding:"required"`
}

// IssueToken mints a token for any identity. It is only routed when the
// development issuer is enabled.
func (h *Handler) IssueToken(c *gin.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}
	p := models.Participant{ID: req.UserID, Role: req.UserType}
	token, err := h.Auth.Issue(p)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user_id": p.ID, "user_type": p.Role})
}
