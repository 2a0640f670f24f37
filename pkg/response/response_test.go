package response

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuccess_OmitsError(t *testing.T) {
	raw, err := json.Marshal(Success(map[string]bool{"received": true}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"data":{"received":true}}`, string(raw))
}

func TestErrorWithDetails(t *testing.T) {
	raw, err := json.Marshal(ErrorWithDetails("SUBSCRIPTION_EXISTS", "already subscribed", map[string]string{"subscriptionId": "sub_1"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":{"code":"SUBSCRIPTION_EXISTS","message":"already subscribed","details":{"subscriptionId":"sub_1"}}}`, string(raw))
}

func TestInternalError_IsGeneric(t *testing.T) {
	resp := InternalError()
	assert.False(t, resp.Success)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
	assert.Nil(t, resp.Error.Details)
}
