package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsKindAndLeavesSentinelIntact(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(ErrGatewayUnavailable, "create transaction", cause)

	assert.True(t, errors.Is(err, ErrGatewayUnavailable))
	assert.False(t, errors.Is(err, ErrGatewayRefundFailed))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "Payment gateway is unavailable", ErrGatewayUnavailable.Message)
	assert.Nil(t, ErrGatewayUnavailable.Err)
}

func TestStatusOf(t *testing.T) {
	wrapped := fmt.Errorf("release escrow: %w", Newf(ErrEscrowNotFound, "escrow %d not found", 7))

	assert.Equal(t, http.StatusNotFound, StatusOf(wrapped))
	assert.Equal(t, "escrow_not_found", KindOf(wrapped))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))
	assert.Equal(t, "internal_error", KindOf(errors.New("boom")))
}
