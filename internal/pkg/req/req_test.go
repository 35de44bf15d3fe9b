package req

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/pkg/errs"
)

type loginBody struct {
	User string `json:"user"`
}

func newRequest(body, contentType string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	return r
}

func TestBindJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		wantCode    int
	}{
		{"valid", `{"user":"alice"}`, "application/json", 0},
		{"charset suffix", `{"user":"alice"}`, "application/json; charset=utf-8", 0},
		{"wrong content type", `{"user":"alice"}`, "text/plain", errs.ErrUnsupportedMediaType},
		{"malformed", `{"user":`, "application/json", errs.ErrInvalidJSONFormat},
		{"unknown field", `{"user":"alice","admin":true}`, "application/json", errs.ErrInvalidJSONFormat},
		{"trailing content", `{"user":"alice"}{"user":"bob"}`, "application/json", errs.ErrExtraContentInBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dst loginBody
			customErr := BindJSON(httptest.NewRecorder(), newRequest(tt.body, tt.contentType), &dst)

			if tt.wantCode == 0 {
				require.Nil(t, customErr)
				assert.Equal(t, "alice", dst.User)
				return
			}
			require.NotNil(t, customErr)
			assert.Equal(t, tt.wantCode, customErr.Code)
		})
	}
}
