package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/townhall/config"
	"github.com/d60-Lab/townhall/internal/api/handler"
	"github.com/d60-Lab/townhall/internal/api/middleware"
	"github.com/d60-Lab/townhall/internal/classifier"
	"github.com/d60-Lab/townhall/internal/identity"
	"github.com/d60-Lab/townhall/internal/metrics"
	"github.com/d60-Lab/townhall/internal/service"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	seq    int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.RateLimit.RPS = 0
	cfg.Feed.TickInterval = time.Hour

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ids := identity.NewStore(identity.NewRedisKV(rdb))
	m := metrics.New()
	th := service.New(ids, classifier.Static{Tags: []string{"#TEST"}}, cfg.Feed, service.WithMetrics(m))
	stop := th.Start()
	t.Cleanup(func() { _ = stop(context.Background()) })

	ts := &testServer{t: t}
	tokens := middleware.NewSessionTokens(cfg.JWT)
	h := handler.New(th, ids, tokens, func() string {
		ts.seq++
		return fmt.Sprintf("session-%d", ts.seq)
	})
	ts.router = NewRouter(Deps{Config: cfg, Handler: h, Tokens: tokens, Metrics: m})
	return ts
}

func (s *testServer) do(method, path, token string, body interface{}) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec.Code, env
}

func (s *testServer) session() (string, map[string]interface{}) {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/api/v1/session", "", nil)
	require.Equal(s.t, http.StatusCreated, code)
	var data struct {
		Token    string                 `json:"token"`
		Identity map[string]interface{} `json:"identity"`
	}
	require.NoError(s.t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(s.t, data.Token)
	return data.Token, data.Identity
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestSessionAndIdentity(t *testing.T) {
	s := newTestServer(t)
	token, ident := s.session()
	assert.Equal(t, "standard", ident["type"])

	code, env := s.do(http.MethodGet, "/api/v1/me", token, nil)
	require.Equal(t, http.StatusOK, code)
	var me map[string]interface{}
	decode(t, env.Data, &me)
	assert.Equal(t, ident["sessionHash"], me["sessionHash"])

	code, env = s.do(http.MethodPost, "/api/v1/me/regenerate", token, nil)
	require.Equal(t, http.StatusOK, code)
	var fresh map[string]interface{}
	decode(t, env.Data, &fresh)
	assert.NotEqual(t, me["sessionHash"], fresh["sessionHash"])

	code, _ = s.do(http.MethodGet, "/api/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = s.do(http.MethodGet, "/api/v1/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestPostAndFeed(t *testing.T) {
	s := newTestServer(t)
	alice, _ := s.session()
	bob, _ := s.session()

	code, env := s.do(http.MethodPost, "/api/v1/posts", alice, gin.H{"content": "signal check", "channel": "global"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var post struct {
		ID   string   `json:"id"`
		Tags []string `json:"tags"`
	}
	decode(t, env.Data, &post)
	assert.Equal(t, []string{"#TEST"}, post.Tags)

	code, env = s.do(http.MethodGet, "/api/v1/feed?channel=global", bob, nil)
	require.Equal(t, http.StatusOK, code)
	var feed struct {
		Channel string `json:"channel"`
		Posts   []struct {
			ID string `json:"id"`
		} `json:"posts"`
	}
	decode(t, env.Data, &feed)
	assert.Equal(t, "global", feed.Channel)
	require.Len(t, feed.Posts, 2)
	assert.Equal(t, post.ID, feed.Posts[0].ID)

	code, env = s.do(http.MethodPost, "/api/v1/posts/"+post.ID+"/vote", bob, gin.H{"delta": 1})
	require.Equal(t, http.StatusOK, code)
	var voted struct {
		Votes int `json:"votes"`
	}
	decode(t, env.Data, &voted)
	assert.Equal(t, 1, voted.Votes)

	code, _ = s.do(http.MethodPost, "/api/v1/posts/"+post.ID+"/vote", bob, gin.H{"delta": 3})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(http.MethodPost, "/api/v1/posts/missing/keep", bob, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, env.Data, "unknown posts are a no-op")

	code, _ = s.do(http.MethodPost, "/api/v1/posts/"+post.ID+"/replies", bob, gin.H{"content": "copy"})
	assert.Equal(t, http.StatusCreated, code)
}

func TestPostValidation(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.session()

	code, _ := s.do(http.MethodPost, "/api/v1/posts", token, gin.H{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := s.do(http.MethodPost, "/api/v1/posts", token, gin.H{"content": "near?", "channel": "local"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Message, "location")

	code, _ = s.do(http.MethodPost, "/api/v1/posts", token, gin.H{"content": "near?", "channel": "local", "lat": 6.5})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodPost, "/api/v1/posts", token, gin.H{"content": "near?", "channel": "local", "lat": 6.5, "lng": 3.4})
	assert.Equal(t, http.StatusCreated, code)

	code, _ = s.do(http.MethodGet, "/api/v1/feed?channel=local&lat=91&lng=0", token, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodPost, "/api/v1/posts", token, gin.H{"content": "hi", "channel": "group"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPromote_InsufficientFundsThenSuccess(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.session()

	code, _ := s.do(http.MethodPost, "/api/v1/business/campaigns", token, gin.H{"content": "ad", "duration_hours": 1})
	assert.Equal(t, http.StatusBadRequest, code, "standard identities cannot promote")

	code, env := s.do(http.MethodPost, "/api/v1/business/login", token, gin.H{"name": "Acme"})
	require.Equal(t, http.StatusOK, code, env.Message)

	code, _ = s.do(http.MethodPost, "/api/v1/business/funds", token, gin.H{"amount": 500})
	require.Equal(t, http.StatusOK, code)

	code, env = s.do(http.MethodPost, "/api/v1/business/campaigns", token, gin.H{"content": "mega sale", "duration_hours": 3})
	require.Equal(t, http.StatusUnprocessableEntity, code)
	var short map[string]int64
	decode(t, env.Data, &short)
	assert.EqualValues(t, 500, short["balance"])
	assert.EqualValues(t, 600, short["cost"])

	code, _ = s.do(http.MethodPost, "/api/v1/business/funds", token, gin.H{"amount": 500})
	require.Equal(t, http.StatusOK, code)

	code, env = s.do(http.MethodPost, "/api/v1/business/campaigns", token, gin.H{
		"content": "mega sale", "duration_hours": 3, "interests": []string{"Tech"},
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var promoted struct {
		Post struct {
			ID       string `json:"id"`
			Campaign struct {
				Metrics struct {
					Cost int64 `json:"cost"`
				} `json:"metrics"`
			} `json:"campaign"`
		} `json:"post"`
		Identity struct {
			Balance int64 `json:"balance"`
		} `json:"identity"`
	}
	decode(t, env.Data, &promoted)
	assert.EqualValues(t, 400, promoted.Identity.Balance)
	assert.EqualValues(t, 600, promoted.Post.Campaign.Metrics.Cost)

	code, env = s.do(http.MethodGet, "/api/v1/business/campaigns", token, nil)
	require.Equal(t, http.StatusOK, code)
	var rows []struct {
		ID     string `json:"id"`
		Active bool   `json:"active"`
	}
	decode(t, env.Data, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, promoted.Post.ID, rows[0].ID)
	assert.True(t, rows[0].Active)
}

func TestGroups(t *testing.T) {
	s := newTestServer(t)
	owner, _ := s.session()
	guest, _ := s.session()

	code, env := s.do(http.MethodPost, "/api/v1/groups", owner, gin.H{"name": "Night Shift"})
	require.Equal(t, http.StatusCreated, code)
	var g struct {
		ID         string `json:"id"`
		InviteCode string `json:"inviteCode"`
	}
	decode(t, env.Data, &g)
	require.Len(t, g.InviteCode, 6)

	code, _ = s.do(http.MethodPost, "/api/v1/groups/join", guest, gin.H{"code": "XXXXXX"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(http.MethodPost, "/api/v1/groups/join", guest, gin.H{"code": g.InviteCode})
	require.Equal(t, http.StatusOK, code)
	var joined map[string]interface{}
	decode(t, env.Data, &joined)
	assert.NotContains(t, joined, "inviteCode")

	code, env = s.do(http.MethodGet, "/api/v1/groups", guest, nil)
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Groups   []map[string]interface{} `json:"groups"`
		ActiveID string                   `json:"activeId"`
	}
	decode(t, env.Data, &list)
	require.Len(t, list.Groups, 1)
	assert.Equal(t, g.ID, list.ActiveID)
}

func TestOperationalEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	token, _ := s.session()
	code, env := s.do(http.MethodGet, "/api/v1/status", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "System diagnostics running...")

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `townhall_http_requests_total{method="POST",route="/api/v1/session",status="2xx"}`)
}
