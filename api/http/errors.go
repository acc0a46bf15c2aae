package httpapi

import (
	"errors"
	"net/http"

	"github.com/rexbrahh/irma-engine/accounts"
	apitypes "github.com/rexbrahh/irma-engine/api/http/types"
	"github.com/rexbrahh/irma-engine/connector"
	"github.com/rexbrahh/irma-engine/protocol"
)

var (
	notFound = []error{
		protocol.ErrSymbolNotFound,
		connector.ErrPoolNotFound,
		accounts.ErrNotFound,
		apitypes.ErrNotFound,
	}
	conflict = []error{
		protocol.ErrNotInitialized,
		protocol.ErrAlreadyInitialized,
		protocol.ErrDuplicateReserve,
		protocol.ErrDuplicateInstruction,
		accounts.ErrStaleRevision,
	}
	unprocessable = []error{
		connector.ErrInvalidPoolConfig,
		connector.ErrPoolNotActive,
		connector.ErrInsufficientAmountOut,
		accounts.ErrSchemaMismatch,
		accounts.ErrDiscriminator,
	}
	connectorNames = []struct {
		err  error
		name string
	}{
		{connector.ErrInvalidPoolConfig, "InvalidPoolConfig"},
		{connector.ErrPoolNotActive, "PoolNotActive"},
		{connector.ErrInsufficientAmountOut, "InsufficientAmountOut"},
		{connector.ErrPoolNotFound, "PoolNotFound"},
	}
)

func matches(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// statusFor maps an instruction error to an HTTP status. Authorization
// failures take precedence over every other class.
func statusFor(err error) int {
	switch {
	case errors.Is(err, protocol.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, apitypes.ErrBadRequest):
		return http.StatusBadRequest
	case matches(err, notFound):
		return http.StatusNotFound
	case matches(err, conflict):
		return http.StatusConflict
	case matches(err, unprocessable), protocol.ErrorName(err) != "":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func errorName(err error) string {
	if name := protocol.ErrorName(err); name != "" {
		return name
	}
	for _, n := range connectorNames {
		if errors.Is(err, n.err) {
			return n.name
		}
	}
	return ""
}
