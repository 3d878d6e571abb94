package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("phone is required"), KindValidation},
		{"duplicate", Duplicate("email %s taken", "a@b.c"), KindDuplicate},
		{"not found", NotFound("no user"), KindNotFound},
		{"wrapped", fmt.Errorf("signin: %w", NotFound("no user")), KindNotFound},
		{"plain", errors.New("boom"), KindInternal},
		{"internal", Internal(errors.New("dial tcp"), "list users"), KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestMessageHidesInternalCause(t *testing.T) {
	err := Internal(errors.New("connection refused 10.0.0.3:5432"), "list users")
	assert.Equal(t, "internal error", Message(err))
	assert.Contains(t, err.Error(), "connection refused")

	assert.Equal(t, "email a@b.c already registered", Message(Duplicate("email %s already registered", "a@b.c")))
}
