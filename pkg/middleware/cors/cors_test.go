package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/uniportal-api/pkg/config"
)

func portalConfig(origins ...string) config.CORSConfig {
	return config.CORSConfig{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           10 * time.Minute,
	}
}

func request(cfg config.CORSConfig, method, origin string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(New(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(method, "/", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAllowedOriginIsEchoed(t *testing.T) {
	rec := request(portalConfig("https://portal.uni.test/"), http.MethodGet, "https://portal.uni.test")
	assert.Equal(t, "https://portal.uni.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Disposition, X-Request-ID", rec.Header().Get("Access-Control-Expose-Headers"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
}

func TestUnknownOriginIsNotEchoed(t *testing.T) {
	rec := request(portalConfig("https://portal.uni.test"), http.MethodGet, "https://evil.test")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflightShortCircuits(t *testing.T) {
	rec := request(portalConfig(), http.MethodOptions, "https://any.test")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://any.test", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCredentialsAndEmptyListsAreOmitted(t *testing.T) {
	rec := request(config.CORSConfig{}, http.MethodGet, "")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Empty(t, rec.Header().Get("Access-Control-Max-Age"))
}
