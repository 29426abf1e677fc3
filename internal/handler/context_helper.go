package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uniportal-api/internal/middleware"
	"github.com/noah-isme/uniportal-api/internal/models"
	appErrors "github.com/noah-isme/uniportal-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.CurrentUser(c)
}

func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, name+" must be a positive integer")
	}
	return id, nil
}

// queryID parses an optional numeric filter; absent means zero.
func queryID(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, name+" must be a positive integer")
	}
	return id, nil
}

func pageParams(c *gin.Context) (int, int) {
	page, size := 1, 20
	if v, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		page = v
	}
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		size = v
	}
	return page, size
}

func invalidPayload(err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload")
}

// studentMayAct reports whether a STUDENT caller is acting on their own profile. Other roles pass.
func studentMayAct(claims *models.JWTClaims, studentID int64) bool {
	if claims == nil || claims.Role != models.RoleStudent {
		return true
	}
	return claims.ProfileID != nil && *claims.ProfileID == studentID
}

type enrollmentReader interface {
	Get(ctx context.Context, id int64) (*models.EnrollmentDetail, error)
}

// requireOwnEnrollment loads the enrollment for STUDENT callers and rejects one held by another
// student. Other roles pass without a lookup.
func requireOwnEnrollment(c *gin.Context, enrollments enrollmentReader, id int64, message string) error {
	claims := claimsFromContext(c)
	if claims == nil || claims.Role != models.RoleStudent {
		return nil
	}
	current, err := enrollments.Get(c.Request.Context(), id)
	if err != nil {
		return err
	}
	if !studentMayAct(claims, current.StudentID) {
		return appErrors.Clone(appErrors.ErrForbidden, message)
	}
	return nil
}

// scopeStudentFilter pins a STUDENT caller's enrollment listing to their own profile.
func scopeStudentFilter(claims *models.JWTClaims, filter *models.EnrollmentFilter) error {
	if claims == nil || claims.Role != models.RoleStudent {
		return nil
	}
	if claims.ProfileID == nil || (filter.StudentID != 0 && filter.StudentID != *claims.ProfileID) {
		return appErrors.Clone(appErrors.ErrForbidden, "students may only list their own enrollments")
	}
	filter.StudentID = *claims.ProfileID
	return nil
}

func actorID(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.UserID
	}
	return ""
}
