package auth_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/devcubo3/trabalho-mae/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func login(t *testing.T, a interface{ StartSession(*gin.Context) }, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/auth", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	a.StartSession(c)
	c.Writer.WriteHeaderNow()
	return rec
}

func TestSession(t *testing.T) {
	a, err := auth.New("hello")
	require.NoError(t, err)

	for _, row := range []struct {
		description string
		body        string
		status      int
		cookie      bool
	}{
		{description: "correct secret", body: `{"secretKey": "hello"}`, status: http.StatusOK, cookie: true},
		{description: "wrong secret", body: `{"secretKey": "hello world"}`, status: http.StatusUnauthorized},
		{description: "missing field", body: `{"secret": "hello"}`, status: http.StatusBadRequest},
	} {
		t.Run(row.description, func(t *testing.T) {
			rec := login(t, a, row.body)
			require.Equal(t, row.status, rec.Code)

			cookies := rec.Result().Cookies()
			if !row.cookie {
				require.Empty(t, cookies)
				return
			}
			require.Len(t, cookies, 1)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			require.False(t, a.Authenticate(req))
			req.AddCookie(cookies[0])
			require.True(t, a.Authenticate(req))
		})
	}
}

func TestForgedCookie(t *testing.T) {
	a, err := auth.New("hello")
	require.NoError(t, err)
	other, err := auth.New("other")
	require.NoError(t, err)

	rec := login(t, other, `{"secretKey": "other"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	require.False(t, a.Authenticate(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Cookie", "extratorSession=not-base64!")
	require.False(t, a.Authenticate(req))
}

func TestClearSession(t *testing.T) {
	a, err := auth.New("hello")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.ClearSession(rec)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Empty(t, cookies[0].Value)
	require.Negative(t, cookies[0].MaxAge)
}

func TestOpenWithoutSecret(t *testing.T) {
	a, err := auth.New("")
	require.NoError(t, err)
	require.IsType(t, auth.Open{}, a)
	require.True(t, a.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil)))
}
