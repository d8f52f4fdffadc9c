package dispatch

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/specgate/errors"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"Bearer abc", "abc", false},
		{"bearer abc", "abc", false},
		{"BEARER abc", "abc", false},
		{"Basic dXNlcjpwYXNz", "", false},
		{"Bearer", "", true},
		{"Bearer a b", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := BearerToken(r)
			if tt.wantErr {
				he, ok := errors.AsHTTP(err)
				require.True(t, ok)
				assert.Equal(t, "Malformed authorization header", he.Message)
				assert.Equal(t, http.StatusBadRequest, he.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenCheck_Malformed(t *testing.T) {
	d := New(quietLogger(), &fakeCaller{})
	r := httptest.NewRequest(http.MethodGet, "/api/hello", nil)
	r.Header.Set("Authorization", "Bearer")

	rec, next := run(t, d, helloMetadata(nil), r)
	assert.False(t, next)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
