package store

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCursor_RoundTrip(t *testing.T) {
	in := &JobCursor{
		CreatedAt: time.Date(2026, 8, 30, 10, 0, 0, 123456789, time.UTC),
		JobID:     "3c9de3a4-9d2e-4f3a-8f7b-2f1f0a9c5d11",
	}

	out, err := DecodeJobCursor(in.Encode())
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.JobID, out.JobID)
}

func TestDecodeJobCursor_EmptyMeansFirstPage(t *testing.T) {
	cursor, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecodeJobCursor_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "not base64",
			token: "%%%not-base64%%%",
		},
		{
			name:  "missing separator",
			token: base64.StdEncoding.EncodeToString([]byte("1234567890")),
		},
		{
			name:  "missing job id",
			token: base64.StdEncoding.EncodeToString([]byte("1234567890|")),
		},
		{
			name:  "non-numeric timestamp",
			token: base64.StdEncoding.EncodeToString([]byte("yesterday|job-1")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJobCursor(tt.token)
			assert.Error(t, err)
		})
	}
}
