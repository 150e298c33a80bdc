package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/authgate/pkg/errors"
)

func TestHashToken_SaltedAndVerifiable(t *testing.T) {
	key := uuid.NewString()

	h1, err := HashToken(key)
	require.NoError(t, err)
	h2, err := HashToken(key)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
	assert.True(t, CompareToken(h1, key))
	assert.True(t, CompareToken(h2, key))
	assert.False(t, CompareToken(h1, uuid.NewString()))
	assert.False(t, CompareToken(h1, key+"x"))
}

func TestHashToken_EmptyKey(t *testing.T) {
	_, err := HashToken("")
	assert.True(t, apperrors.IsKind(err, apperrors.KindArgument))
}

func TestCompareToken_EmptyInputs(t *testing.T) {
	assert.False(t, CompareToken("", "key"))
	assert.False(t, CompareToken("$2a$10$abc", ""))
	assert.False(t, CompareToken("not-a-hash", "key"))
}
