package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v4"

	"github.com/jmehdipour/wadispatch/internal/http/middleware"
	"github.com/jmehdipour/wadispatch/internal/model"
	"github.com/jmehdipour/wadispatch/internal/options"
	"github.com/jmehdipour/wadispatch/internal/repository"
)

// LogReports lists execution logs from the analytics store.
type LogReports interface {
	List(ctx context.Context, f repository.LogFilter) ([]model.ExecutionLog, error)
}

// listExecutionsHandler is admin only: logs are not scoped per user.
func listExecutionsHandler(reports LogReports) echo.HandlerFunc {
	return func(c echo.Context) error {
		u, ok := middleware.UserFromCtx(c)
		if !ok || !u.IsAdmin() {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "admin only"})
		}

		if reports == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "analytics store is not configured"})
		}

		f := repository.LogFilter{Limit: 50, TaskID: strings.TrimSpace(c.QueryParam("task_id"))}
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				f.Limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				f.Offset = n
			}
		}

		if raw := strings.ToLower(strings.TrimSpace(c.QueryParam("status"))); raw != "" {
			st := model.TaskStatus(raw)
			if !st.Valid() {
				return respondError(c, options.NewValidationError("status", "unknown status %q", raw))
			}
			f.Status = st
		}

		var err error
		if f.From, err = parseTimeParam(c, "from"); err != nil {
			return respondError(c, err)
		}
		if f.To, err = parseTimeParam(c, "to"); err != nil {
			return respondError(c, err)
		}

		logs, err := reports.List(c.Request().Context(), f)
		if err != nil {
			return respondError(c, err)
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   f.Limit,
			"offset":  f.Offset,
			"count":   len(logs),
			"results": logs,
		})
	}
}

func parseTimeParam(c echo.Context, name string) (time.Time, error) {
	v := strings.TrimSpace(c.QueryParam(name))
	if v == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, options.NewValidationError(name, "must be RFC 3339")
	}
	return t.UTC(), nil
}
