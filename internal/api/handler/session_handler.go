package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/townhall/internal/model"
	"github.com/d60-Lab/townhall/pkg/response"
)

type sessionResponse struct {
	Token     string              `json:"token"`
	ExpiresAt time.Time           `json:"expiresAt"`
	Identity  *model.UserIdentity `json:"identity"`
}

// CreateSession 开启匿名会话
// @Summary 开启会话并生成匿名身份
// @Tags 身份
// @Produce json
// @Success 201 {object} response.Response{data=sessionResponse}
// @Failure 500 {object} response.Response
// @Router /api/v1/session [post]
func (h *Handler) CreateSession(c *gin.Context) {
	sid := h.newSession()
	u, err := h.identities.GetOrCreate(c.Request.Context(), sid)
	if err != nil {
		fail(c, err)
		return
	}
	token, exp, err := h.tokens.Issue(sid)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, sessionResponse{Token: token, ExpiresAt: exp, Identity: u})
}

// Me 当前身份
// @Summary 获取当前身份（不存在则生成）
// @Tags 身份
// @Produce json
// @Security SessionToken
// @Success 200 {object} response.Response{data=model.UserIdentity}
// @Failure 401 {object} response.Response
// @Router /api/v1/me [get]
func (h *Handler) Me(c *gin.Context) {
	u, err := h.identities.GetOrCreate(c.Request.Context(), session(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, u)
}

// Regenerate 丢弃当前身份并生成新身份（登出）
// @Summary 重新生成身份
// @Tags 身份
// @Produce json
// @Security SessionToken
// @Success 200 {object} response.Response{data=model.UserIdentity}
// @Failure 401 {object} response.Response
// @Router /api/v1/me/regenerate [post]
func (h *Handler) Regenerate(c *gin.Context) {
	u, err := h.identities.Regenerate(c.Request.Context(), session(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, u)
}

// Status 系统状态语句
// @Summary 获取一条系统状态语句
// @Tags 系统
// @Produce json
// @Security SessionToken
// @Success 200 {object} response.Response{data=map[string]string}
// @Router /api/v1/status [get]
func (h *Handler) Status(c *gin.Context) {
	response.Success(c, gin.H{"message": h.townhall.StatusLine(c.Request.Context())})
}
