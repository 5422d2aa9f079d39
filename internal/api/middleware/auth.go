package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/d60-Lab/townhall/config"
	"github.com/d60-Lab/townhall/pkg/response"
)

const sessionKey = "sessionID"

var ErrInvalidToken = errors.New("invalid session token")

// Claims 会话令牌，sid 对应身份存储中的一条记录
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// SessionTokens signs and verifies HS256 session tokens.
type SessionTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionTokens(cfg config.JWTConfig) *SessionTokens {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &SessionTokens{secret: []byte(cfg.Secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for sessionID and its expiry.
func (s *SessionTokens) Issue(sessionID string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    "townhall",
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies raw and returns the session id it carries.
func (s *SessionTokens) Parse(raw string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.SessionID == "" {
		return "", ErrInvalidToken
	}
	return claims.SessionID, nil
}

// Auth requires a session token, from the Authorization header or, for websocket
// upgrades, the token query parameter.
func Auth(tokens *SessionTokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := ""
		if h := c.GetHeader("Authorization"); h != "" {
			parts := strings.SplitN(h, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				response.Unauthorized(c, "authorization header must be: Bearer <token>")
				return
			}
			raw = strings.TrimSpace(parts[1])
		} else {
			raw = c.Query("token")
		}
		if raw == "" {
			response.Unauthorized(c, "session token required")
			return
		}
		sid, err := tokens.Parse(raw)
		if err != nil {
			response.Unauthorized(c, err.Error())
			return
		}
		c.Set(sessionKey, sid)
		c.Next()
	}
}

// SessionID returns the id stored by Auth.
func SessionID(c *gin.Context) string { return c.GetString(sessionKey) }
