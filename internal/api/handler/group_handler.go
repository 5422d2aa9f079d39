package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/townhall/pkg/response"
)

type createGroupRequest struct {
	Name string `json:"name" binding:"required,max=64"`
}

type joinGroupRequest struct {
	Code string `json:"code" binding:"required"`
}

// CreateGroup 创建群组
// @Summary 创建私有群组（创建者自动加入）
// @Tags 群组
// @Accept json
// @Produce json
// @Security SessionToken
// @Param request body createGroupRequest true "群组名称"
// @Success 201 {object} response.Response{data=model.Group}
// @Failure 400 {object} response.Response
// @Router /api/v1/groups [post]
func (h *Handler) CreateGroup(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	g, err := h.townhall.CreateGroup(c.Request.Context(), session(c), req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, g)
}

// JoinGroup 通过邀请码加入
// @Summary 使用邀请码加入群组
// @Tags 群组
// @Accept json
// @Produce json
// @Security SessionToken
// @Param request body joinGroupRequest true "邀请码"
// @Success 200 {object} response.Response{data=model.Group}
// @Failure 400 {object} response.Response
// @Router /api/v1/groups/join [post]
func (h *Handler) JoinGroup(c *gin.Context) {
	var req joinGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	g, err := h.townhall.JoinGroup(c.Request.Context(), session(c), req.Code)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, g)
}

// ListGroups 已加入的群组
// @Summary 查询已加入的群组
// @Tags 群组
// @Produce json
// @Security SessionToken
// @Success 200 {object} response.Response{data=service.GroupList}
// @Router /api/v1/groups [get]
func (h *Handler) ListGroups(c *gin.Context) {
	list, err := h.townhall.Groups(c.Request.Context(), session(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, list)
}
