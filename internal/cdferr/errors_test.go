package cdferr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestU_Error_IsMatchesKind(t *testing.T) {
	err := New(Overflow, "fixed-width encode", "value needs %d bytes", 33)

	assert.ErrorIs(t, err, ErrOverflow)
	assert.NotErrorIs(t, err, ErrMalformedInput)
	assert.Equal(t, Overflow, KindOf(err))
	assert.Contains(t, err.Error(), "Overflow: fixed-width encode: value needs 33 bytes")
}

func TestU_Error_WrappedChain(t *testing.T) {
	inner := New(MalformedInput, "hex decode", "odd length")
	outer := fmt.Errorf("failed to parse P: %w", inner)

	assert.ErrorIs(t, outer, ErrMalformedInput)
	assert.Equal(t, MalformedInput, KindOf(outer))
}

func TestU_Wrap_Nil(t *testing.T) {
	assert.NoError(t, Wrap(PrimitiveFailed, "sign", nil))
}

func TestU_Wrap_KeepsCause(t *testing.T) {
	cause := errors.New("token said no")
	err := Wrap(KeyValidationFailed, "import key", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrKeyValidationFailed)
}

func TestU_KindOf_Unclassified(t *testing.T) {
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(0), KindOf(nil))
}

func TestU_Kind_String(t *testing.T) {
	kinds := map[Kind]string{
		MalformedInput:      "MalformedInput",
		Overflow:            "Overflow",
		InvalidKey:          "InvalidKey",
		KeyValidationFailed: "KeyValidationFailed",
		PrimitiveFailed:     "PrimitiveFailed",
		Unsupported:         "Unsupported",
		Kind(42):            "Kind(42)",
	}
	for k, want := range kinds {
		assert.Equal(t, want, k.String())
	}
}
