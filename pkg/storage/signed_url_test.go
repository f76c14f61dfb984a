package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("rep-1", "file://reports/org-1/rep-1/summary.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	reportID, location, parsedExpiry, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "rep-1", reportID)
	require.Equal(t, "file://reports/org-1/rep-1/summary.pdf", location)
	require.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Millisecond*10)
	token, _, err := signer.Generate("rep-1", "s3://bucket/reports/file.csv")
	require.NoError(t, err)
	time.Sleep(time.Millisecond * 20)

	reportID, location, _, err := signer.Parse(token)
	require.EqualError(t, err, "token expired")
	require.Empty(t, reportID)
	require.Empty(t, location)
}

func TestSignedURLSignerRejectsForeignSecret(t *testing.T) {
	token, _, err := NewSignedURLSigner("secret", time.Hour).Generate("rep-1", "file://reports/a.csv")
	require.NoError(t, err)

	_, _, _, err = NewSignedURLSigner("other", time.Hour).Parse(token)
	require.Error(t, err)
}
