package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/practicedesk/practicedesk/internal/audit"
	"github.com/practicedesk/practicedesk/internal/db/models"
	"github.com/practicedesk/practicedesk/internal/db/repositories"
)

// AuditHandlers exposes the compliance report.
type AuditHandlers struct {
	auditLog *audit.Logger
}

// NewAuditHandlers creates a new AuditHandlers instance.
func NewAuditHandlers(auditLog *audit.Logger) *AuditHandlers {
	return &AuditHandlers{auditLog: auditLog}
}

// ReportHandler returns a filtered page of the audit trail, newest first.
//
// GET /api/audit/report?start_date=&end_date=&user_id=&client_id=&hipaa_only=&risk_level=&limit=&offset=
//
// Dates accept RFC 3339 timestamps or plain YYYY-MM-DD dates; a bare end
// date is inclusive of that whole day.
func (h *AuditHandlers) ReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filters, err := parseReportFilters(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		limit, _ := strconv.Atoi(c.Query("limit"))
		offset, _ := strconv.Atoi(c.Query("offset"))

		report, err := h.auditLog.GetAuditReport(c.Request.Context(), filters, limit, offset)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, report)
	}
}

func parseReportFilters(c *gin.Context) (repositories.AuditFilters, error) {
	var filters repositories.AuditFilters

	if raw := c.Query("start_date"); raw != "" {
		t, err := parseReportDate(raw, false)
		if err != nil {
			return filters, err
		}
		filters.StartDate = &t
	}
	if raw := c.Query("end_date"); raw != "" {
		t, err := parseReportDate(raw, true)
		if err != nil {
			return filters, err
		}
		filters.EndDate = &t
	}
	if raw := c.Query("user_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			return filters, errInvalidFilter("user_id", raw)
		}
		filters.UserID = &id
	}
	if raw := c.Query("client_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			return filters, errInvalidFilter("client_id", raw)
		}
		filters.ClientID = &id
	}
	if raw := c.Query("hipaa_only"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return filters, errInvalidFilter("hipaa_only", raw)
		}
		if v {
			filters.HIPAARelevant = &v
		}
	}
	if raw := c.Query("risk_level"); raw != "" {
		level := models.RiskLevel(raw)
		if !models.ValidRiskLevel(level) {
			return filters, errInvalidFilter("risk_level", raw)
		}
		filters.RiskLevel = &level
	}

	return filters, nil
}

// parseReportDate accepts RFC 3339 or YYYY-MM-DD. Bare end dates are bumped
// to the final instant of the day so the range is inclusive.
func parseReportDate(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errInvalidFilter("date", raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

type filterError struct {
	field string
	value string
}

func (e filterError) Error() string {
	return "invalid " + e.field + " filter: " + e.value
}

func errInvalidFilter(field, value string) error {
	return filterError{field: field, value: value}
}
