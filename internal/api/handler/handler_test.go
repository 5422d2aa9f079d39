package handler

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/townhall/internal/group"
	"github.com/d60-Lab/townhall/internal/identity"
	"github.com/d60-Lab/townhall/internal/service"
)

func TestFail_StatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		code int
	}{
		{service.ErrEmptyContent, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", group.ErrInvalidCode), http.StatusBadRequest},
		{identity.ErrNotBusiness, http.StatusBadRequest},
		{identity.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{service.ErrComposerBusy, http.StatusConflict},
		{errors.New("redis: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		fail(c, tc.err)
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
	}
}

func TestLocation(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	loc, err := location(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, loc)

	loc, err = location(f(6.5), f(3.4))
	require.NoError(t, err)
	assert.Equal(t, 6.5, loc.Lat)

	for _, pair := range [][2]*float64{
		{f(1), nil},
		{nil, f(1)},
		{f(90.1), f(0)},
		{f(0), f(-180.5)},
		{f(math.NaN()), f(0)},
	} {
		_, err := location(pair[0], pair[1])
		assert.ErrorIs(t, err, errInvalidLocation)
	}
}

func TestChannelBinding(t *testing.T) {
	registerValidators()

	assert.NoError(t, binding.Validator.ValidateStruct(&createPostRequest{Content: "x"}))
	assert.NoError(t, binding.Validator.ValidateStruct(&createPostRequest{Content: "x", Channel: "local"}))
	assert.Error(t, binding.Validator.ValidateStruct(&createPostRequest{Content: "x", Channel: "mars"}))
	assert.Error(t, binding.Validator.ValidateStruct(&feedQuery{Channel: "GLOBAL"}))
}

func TestPromoteBinding(t *testing.T) {
	registerValidators()

	ok := promoteRequest{Content: "ad", DurationHours: 3, Demographics: "Gen Z (18-24)"}
	assert.NoError(t, binding.Validator.ValidateStruct(&ok))
	assert.NoError(t, binding.Validator.ValidateStruct(&promoteRequest{Content: "ad", DurationHours: 3}))

	tooLong := ok
	tooLong.DurationHours = 1<<61 + 1
	assert.Error(t, binding.Validator.ValidateStruct(&tooLong))

	unknown := ok
	unknown.Demographics = "Boomers"
	assert.Error(t, binding.Validator.ValidateStruct(&unknown))
}
