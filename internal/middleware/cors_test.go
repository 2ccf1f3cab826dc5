package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func runCORS(t *testing.T, allowlist []string, origin string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest("GET", "/api/v1/ping", nil)
	if origin != "" {
		c.Request.Header.Set("Origin", origin)
	}
	CORS(allowlist)(c)
	return recorder
}

func TestCORS_EmptyAllowlistAllowsAll(t *testing.T) {
	recorder := runCORS(t, nil, "https://anywhere.example")
	require.Equal(t, "*", recorder.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_AllowlistedOriginEchoed(t *testing.T) {
	recorder := runCORS(t, []string{"https://admissions.example.edu"}, "https://admissions.example.edu")
	require.Equal(t, "https://admissions.example.edu", recorder.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "Origin", recorder.Header().Get("Vary"))
}

func TestCORS_UnknownOriginGetsNoHeader(t *testing.T) {
	recorder := runCORS(t, []string{"https://admissions.example.edu"}, "https://evil.example")
	require.Empty(t, recorder.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest("OPTIONS", "/api/v1/ask", nil)
	CORS(nil)(c)
	require.True(t, c.IsAborted())
	require.Equal(t, 204, recorder.Code)
}
