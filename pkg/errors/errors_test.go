package errors

import (
	"database/sql"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsComparesCodes(t *testing.T) {
	cloned := Clone(ErrReportFailed, "render failed: font missing")
	assert.True(t, Is(cloned, ErrReportFailed))
	assert.True(t, Is(fmt.Errorf("download: %w", cloned), ErrReportFailed))
	assert.False(t, Is(cloned, ErrNotFound))
	assert.False(t, Is(sql.ErrNoRows, ErrNotFound))
	assert.False(t, Is(nil, ErrNotFound))
}

func TestCloneKeepsOriginal(t *testing.T) {
	cloned := Clone(ErrAccessDenied, "financial report requires a finance role")
	assert.Equal(t, "financial report requires a finance role", cloned.Message)
	assert.Equal(t, "access denied", ErrAccessDenied.Message)
	assert.Equal(t, http.StatusForbidden, cloned.Status)

	assert.Equal(t, "access denied", Clone(ErrAccessDenied, "").Message)
	assert.Nil(t, Clone(nil, "x"))
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	typed := FromError(fmt.Errorf("wrapped: %w", ErrUnsupportedFormat))
	assert.Equal(t, "UNSUPPORTED_FORMAT", typed.Code)

	internal := FromError(sql.ErrConnDone)
	require.NotNil(t, internal)
	assert.Equal(t, ErrInternal.Code, internal.Code)
	assert.Equal(t, http.StatusInternalServerError, internal.Status)
	assert.ErrorIs(t, internal, sql.ErrConnDone)
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(sql.ErrNoRows, ErrNotFound.Code, ErrNotFound.Status, "report not found")
	assert.Equal(t, "report not found: "+sql.ErrNoRows.Error(), err.Error())
	assert.Equal(t, "resource not found", ErrNotFound.Error())
}
