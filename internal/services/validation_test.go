package services

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationHelper_SymbolTag(t *testing.T) {
	vh := NewValidationHelper()

	type payload struct {
		Symbol string `validate:"required,symbol"`
	}

	assert.NoError(t, vh.ValidateStruct(&payload{Symbol: "BTC"}))
	assert.NoError(t, vh.ValidateStruct(&payload{Symbol: "USDT20"}))
	assert.Error(t, vh.ValidateStruct(&payload{Symbol: "btc"}))
	assert.Error(t, vh.ValidateStruct(&payload{Symbol: "B"}))
	assert.Error(t, vh.ValidateStruct(&payload{Symbol: "TOOLONGSYMBOL"}))
	assert.Error(t, vh.ValidateStruct(&payload{Symbol: ""}))
}

func TestSendErrorResponse(t *testing.T) {
	vh := NewValidationHelper()

	type payload struct {
		Symbol string `validate:"required,symbol"`
	}
	err := vh.ValidateStruct(&payload{Symbol: "bad symbol"})
	assert.Error(t, err)

	w := httptest.NewRecorder()
	SendErrorResponse(w, "Validation failed", 400, err)

	assert.Equal(t, 400, w.Code)
	var response ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "Validation failed", response.Error)
	assert.Contains(t, response.Details, "Symbol")
}
