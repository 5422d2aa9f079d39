package handler

import (
	"context"
	"errors"
	"math"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/townhall/internal/api/middleware"
	"github.com/d60-Lab/townhall/internal/feed"
	"github.com/d60-Lab/townhall/internal/group"
	"github.com/d60-Lab/townhall/internal/identity"
	"github.com/d60-Lab/townhall/internal/model"
	"github.com/d60-Lab/townhall/internal/service"
	"github.com/d60-Lab/townhall/pkg/response"
)

// Handler 聚合所有 HTTP 接口
type Handler struct {
	townhall   *service.Townhall
	identities *identity.Store
	tokens     *middleware.SessionTokens
	newSession func() string
}

func New(townhall *service.Townhall, identities *identity.Store, tokens *middleware.SessionTokens, newSession func() string) *Handler {
	registerValidators()
	return &Handler{townhall: townhall, identities: identities, tokens: tokens, newSession: newSession}
}

var badRequestErrors = []error{
	identity.ErrNoIdentity,
	identity.ErrNotBusiness,
	identity.ErrInvalidAmount,
	identity.ErrEmptyName,
	service.ErrEmptyContent,
	service.ErrContentTooLong,
	service.ErrInvalidChannel,
	service.ErrLocationRequired,
	service.ErrNoActiveGroup,
	service.ErrInvalidDuration,
	service.ErrInvalidAudience,
	group.ErrEmptyName,
	group.ErrInvalidCode,
	group.ErrNotMember,
	feed.ErrInvalidVote,
	errInvalidLocation,
}

// fail maps domain errors onto the response envelope.
func fail(c *gin.Context, err error) {
	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			response.BadRequest(c, err.Error())
			return
		}
	}
	switch {
	case errors.Is(err, service.ErrComposerBusy):
		response.Conflict(c, err.Error())
	case errors.Is(err, identity.ErrInsufficientFunds):
		response.Unprocessable(c, err.Error(), nil)
	case errors.Is(err, context.Canceled):
		// client went away
		c.Status(499)
	default:
		response.InternalError(c, err)
	}
}

var errInvalidLocation = errors.New("lat and lng must be given together and within range")

// location builds a point from optional coordinates.
func location(lat, lng *float64) (*model.Location, error) {
	if lat == nil && lng == nil {
		return nil, nil
	}
	if lat == nil || lng == nil {
		return nil, errInvalidLocation
	}
	if math.IsNaN(*lat) || math.IsNaN(*lng) || math.Abs(*lat) > 90 || math.Abs(*lng) > 180 {
		return nil, errInvalidLocation
	}
	return &model.Location{Lat: *lat, Lng: *lng}, nil
}

func session(c *gin.Context) string { return middleware.SessionID(c) }
