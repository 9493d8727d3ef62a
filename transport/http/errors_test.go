package httptransport

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-tenancy/command"
	"github.com/goliatone/go-tenancy/pkg/types"
)

func TestErrorResponseMapping(t *testing.T) {
	cases := map[string]struct {
		err      error
		status   int
		textCode string
	}{
		"not found":        {fmt.Errorf("tenant: %w", types.ErrNotFound), http.StatusNotFound, textCodeNotFound},
		"transition":       {command.ErrPendingChangeExists, http.StatusConflict, textCodeTransition},
		"feature disabled": {command.ErrTrialExtensionDisabled, http.StatusForbidden, textCodeFeatureOff},
		"immutable":        {types.ErrImmutable, http.StatusForbidden, textCodeImmutable},
		"validation":       {command.ErrReasonRequired, http.StatusBadRequest, textCodeValidation},
		"unknown":          {fmt.Errorf("boom"), http.StatusInternalServerError, textCodeInternal},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			status, body := errorResponse(tc.err)
			require.Equal(t, tc.status, status)
			require.Equal(t, tc.status, body.Error.Code)
			require.Equal(t, tc.textCode, body.Error.TextCode)
		})
	}
}
