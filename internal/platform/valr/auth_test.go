package valr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeadersAt(t *testing.T) {
	auth := &Auth{Key: "api-key", Secret: "secret-key"}

	t.Run("get without body", func(t *testing.T) {
		headers := auth.HeadersAt("GET", "/v1/account/balances", "", 1700000000000)

		assert.Equal(t, "api-key", headers["X-VALR-API-KEY"])
		assert.Equal(t, "1700000000000", headers["X-VALR-TIMESTAMP"])
		assert.Equal(t,
			"8abbf83c334eb099313eabf91b4b835880d1295350528f821f96296b3365ce8f8ccbe34ea41bf7d259616f0bea66578ecacba9d027b06af05e9b602e74094904",
			headers["X-VALR-SIGNATURE"])
	})

	t.Run("post with body", func(t *testing.T) {
		headers := auth.HeadersAt("POST", "/v1/orders/market", `{"pair":"USDTZAR"}`, 1700000000000)

		assert.Equal(t,
			"2438ac64503559609cd49087ac75a1432ad66c3ca71fc5297cb00227679349ac98e8c83d5879adccb0c8f8294cc110c6b1a2ec3364df07dfdb9888831fe536de",
			headers["X-VALR-SIGNATURE"])
	})
}

func TestAuthStringRedacts(t *testing.T) {
	auth := &Auth{Key: "api-key-123", Secret: "very-secret"}
	s := auth.String()
	assert.NotContains(t, s, "api-key-123")
	assert.NotContains(t, s, "very-secret")
	assert.Contains(t, s, "api-****")
}
