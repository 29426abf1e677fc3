package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uniportal-api/internal/models"
	appErrors "github.com/noah-isme/uniportal-api/pkg/errors"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func TestJSONWrapsDataInSuccessEnvelope(t *testing.T) {
	c, w := newContext()
	JSON(c, http.StatusOK, []int{1, 2}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 2})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"success":true,"data":[1,2],"pagination":{"page":1,"page_size":20,"total_count":2}}`, w.Body.String())
}

func TestErrorHidesWrappedCause(t *testing.T) {
	c, w := newContext()
	Error(c, appErrors.Internal(errors.New("pq: connection refused"), "failed to load section"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")

	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.False(t, env.Success)
	assert.Equal(t, "failed to load section", env.Message)
	assert.Equal(t, appErrors.ErrInternal.Code, env.Error.Code)
}

func TestErrorNormalisesPlainErrors(t *testing.T) {
	c, w := newContext()
	Error(c, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestFileSetsAttachmentHeaders(t *testing.T) {
	c, w := newContext()
	File(c, "grades.pdf", "application/pdf", []byte("%PDF-1.3"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="grades.pdf"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.3", w.Body.String())
}
