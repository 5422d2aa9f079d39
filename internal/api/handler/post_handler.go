package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/townhall/internal/model"
	"github.com/d60-Lab/townhall/internal/service"
	"github.com/d60-Lab/townhall/pkg/response"
)

type feedQuery struct {
	Channel string   `form:"channel" binding:"omitempty,channel"`
	Lat     *float64 `form:"lat"`
	Lng     *float64 `form:"lng"`
	GroupID string   `form:"group_id"`
}

type feedResponse struct {
	Channel model.Channel `json:"channel"`
	GroupID string        `json:"groupId,omitempty"`
	Posts   []model.Post  `json:"posts"`
}

type createPostRequest struct {
	Content string   `json:"content" binding:"required"`
	Channel string   `json:"channel" binding:"omitempty,channel"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	GroupID string   `json:"group_id"`
}

type voteRequest struct {
	Delta int `json:"delta" binding:"required"`
}

type replyRequest struct {
	Content string `json:"content" binding:"required"`
}

func viewRequest(channel, groupID string, lat, lng *float64) (service.ViewRequest, error) {
	loc, err := location(lat, lng)
	if err != nil {
		return service.ViewRequest{}, err
	}
	return service.ViewRequest{Channel: model.Channel(channel), Location: loc, GroupID: groupID}, nil
}

// Feed 频道信息流
// @Summary 获取当前频道可见的帖子
// @Tags 动态
// @Produce json
// @Security SessionToken
// @Param channel query string false "频道" Enums(home, local, group, global, business)
// @Param lat query number false "纬度"
// @Param lng query number false "经度"
// @Param group_id query string false "切换到已加入的群组"
// @Success 200 {object} response.Response{data=feedResponse}
// @Failure 400 {object} response.Response
// @Router /api/v1/feed [get]
func (h *Handler) Feed(c *gin.Context) {
	var q feedQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	req, err := viewRequest(q.Channel, q.GroupID, q.Lat, q.Lng)
	if err != nil {
		fail(c, err)
		return
	}
	posts, v, err := h.townhall.Feed(c.Request.Context(), session(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, feedResponse{Channel: v.Channel, GroupID: v.GroupID, Posts: posts})
}

// CreatePost 发帖
// @Summary 发布帖子（自动打标签）
// @Tags 动态
// @Accept json
// @Produce json
// @Security SessionToken
// @Param request body createPostRequest true "帖子内容"
// @Success 201 {object} response.Response{data=model.Post}
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response "上一条仍在处理"
// @Router /api/v1/posts [post]
func (h *Handler) CreatePost(c *gin.Context) {
	var body createPostRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	req, err := viewRequest(body.Channel, body.GroupID, body.Lat, body.Lng)
	if err != nil {
		fail(c, err)
		return
	}
	p, err := h.townhall.Post(c.Request.Context(), session(c), body.Content, req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, p)
}

// Vote 投票
// @Summary 对帖子投票（+1 / -1）
// @Tags 动态
// @Accept json
// @Produce json
// @Security SessionToken
// @Param id path string true "帖子ID"
// @Param request body voteRequest true "票数变化"
// @Success 200 {object} response.Response{data=model.Post}
// @Failure 400 {object} response.Response
// @Router /api/v1/posts/{id}/vote [post]
func (h *Handler) Vote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	p, err := h.townhall.Vote(c.Request.Context(), c.Param("id"), req.Delta)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, p)
}

// Keep 保留帖子（不再过期）
// @Summary 保留帖子
// @Tags 动态
// @Produce json
// @Security SessionToken
// @Param id path string true "帖子ID"
// @Success 200 {object} response.Response{data=model.Post}
// @Router /api/v1/posts/{id}/keep [post]
func (h *Handler) Keep(c *gin.Context) {
	p, err := h.townhall.Keep(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, p)
}

// Reply 回复
// @Summary 回复帖子（单层）
// @Tags 动态
// @Accept json
// @Produce json
// @Security SessionToken
// @Param id path string true "帖子ID"
// @Param request body replyRequest true "回复内容"
// @Success 201 {object} response.Response{data=model.Post}
// @Failure 400 {object} response.Response
// @Router /api/v1/posts/{id}/replies [post]
func (h *Handler) Reply(c *gin.Context) {
	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	r, err := h.townhall.Reply(c.Request.Context(), session(c), c.Param("id"), req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	if r == nil {
		response.Success(c, nil)
		return
	}
	response.Created(c, r)
}
