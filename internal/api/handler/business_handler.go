package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/townhall/internal/identity"
	"github.com/d60-Lab/townhall/internal/model"
	"github.com/d60-Lab/townhall/internal/service"
	"github.com/d60-Lab/townhall/pkg/response"
)

type businessLoginRequest struct {
	Name string `json:"name" binding:"required"`
}

type addFundsRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

type promoteRequest struct {
	Content       string   `json:"content" binding:"required"`
	DurationHours int      `json:"duration_hours" binding:"max=8760"`
	Interests     []string `json:"interests" binding:"omitempty,max=16,dive,max=32"`
	Demographics  string   `json:"demographics" binding:"omitempty,demographic"`
}

type promoteResponse struct {
	Post     *model.Post         `json:"post"`
	Identity *model.UserIdentity `json:"identity"`
}

// BusinessLogin 以商家身份登录
// @Summary 商家登录（覆盖当前身份，余额清零）
// @Tags 商家
// @Accept json
// @Produce json
// @Security SessionToken
// @Param request body businessLoginRequest true "商家名称"
// @Success 200 {object} response.Response{data=model.UserIdentity}
// @Failure 400 {object} response.Response
// @Router /api/v1/business/login [post]
func (h *Handler) BusinessLogin(c *gin.Context) {
	var req businessLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	u, err := h.identities.LoginAsBusiness(c.Request.Context(), session(c), req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, u)
}

// AddFunds 充值
// @Summary 商家充值
// @Tags 商家
// @Accept json
// @Produce json
// @Security SessionToken
// @Param request body addFundsRequest true "金额"
// @Success 200 {object} response.Response{data=model.UserIdentity}
// @Failure 400 {object} response.Response
// @Router /api/v1/business/funds [post]
func (h *Handler) AddFunds(c *gin.Context) {
	var req addFundsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	u, err := h.identities.AddFunds(c.Request.Context(), session(c), req.Amount)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, u)
}

// Promote 投放推广
// @Summary 创建推广活动（按小时扣费）
// @Tags 商家
// @Accept json
// @Produce json
// @Security SessionToken
// @Param request body promoteRequest true "推广内容与时长"
// @Success 201 {object} response.Response{data=promoteResponse}
// @Failure 400 {object} response.Response
// @Failure 422 {object} response.Response "余额不足"
// @Router /api/v1/business/campaigns [post]
func (h *Handler) Promote(c *gin.Context) {
	var req promoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	p, u, err := h.townhall.Promote(ctx, session(c), service.PromoteRequest{
		Content:       req.Content,
		DurationHours: req.DurationHours,
		Interests:     req.Interests,
		Demographics:  req.Demographics,
	})
	if errors.Is(err, identity.ErrInsufficientFunds) {
		data := gin.H{"cost": int64(req.DurationHours) * model.CampaignRatePerHour}
		if cur, gerr := h.identities.Get(ctx, session(c)); gerr == nil {
			data["balance"] = cur.Balance
		}
		response.Unprocessable(c, err.Error(), data)
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, promoteResponse{Post: p, Identity: u})
}

// ListCampaigns 推广看板
// @Summary 查询本商家的推广活动（含已归档）
// @Tags 商家
// @Produce json
// @Security SessionToken
// @Success 200 {object} response.Response{data=[]service.CampaignView}
// @Failure 400 {object} response.Response
// @Router /api/v1/business/campaigns [get]
func (h *Handler) ListCampaigns(c *gin.Context) {
	views, err := h.townhall.Campaigns(c.Request.Context(), session(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, views)
}
