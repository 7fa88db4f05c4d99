package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jmehdipour/wadispatch/internal/http/middleware"
	"github.com/jmehdipour/wadispatch/internal/logger"
	"github.com/jmehdipour/wadispatch/internal/model"
	"github.com/jmehdipour/wadispatch/internal/options"
	"github.com/jmehdipour/wadispatch/internal/repository"
	"github.com/jmehdipour/wadispatch/internal/service/task"
)

// TaskService is what the task routes need from task.Service.
type TaskService interface {
	Create(ctx context.Context, req task.CreateRequest) (*model.MessageTask, error)
	Batch(ctx context.Context, req task.BatchRequest) (task.BatchResult, error)
	Get(ctx context.Context, id string) (*model.MessageTask, error)
	List(ctx context.Context, f repository.TaskFilter) ([]model.MessageTask, error)
	Cancel(ctx context.Context, id string) (*model.MessageTask, error)
	Retry(ctx context.Context, id string) (*model.MessageTask, error)
	Delete(ctx context.Context, id string) error
	Logs(ctx context.Context, id string, limit int) ([]model.ExecutionLog, error)
	Statistics(ctx context.Context, createdBy *int64) (task.Statistics, error)
}

var _ TaskService = (*task.Service)(nil)

type messageReq struct {
	MessageBody   string         `json:"message_body"   validate:"required,max=4096"`
	Channel       string         `json:"channel"        validate:"omitempty,channel"`
	Type          string         `json:"type"           validate:"omitempty,oneof=text template media interactive list location contact"`
	ScheduledTime *time.Time     `json:"scheduled_time"`
	Priority      *int           `json:"priority"       validate:"omitempty,min=0,max=9"`
	MaxRetries    *int           `json:"max_retries"    validate:"omitempty,min=0,max=10"`
	Options       options.Fields `json:"options"`
}

func (r messageReq) message(createdBy int64) task.Message {
	return task.Message{
		Body:          r.MessageBody,
		Channel:       r.Channel,
		Kind:          r.Type,
		Fields:        r.Options,
		ScheduledTime: r.ScheduledTime,
		Priority:      r.Priority,
		MaxRetries:    r.MaxRetries,
		CreatedBy:     &createdBy,
	}
}

type createReq struct {
	Recipient string `json:"recipient" validate:"required,max=32"`
	messageReq
}

type batchReq struct {
	Recipients []string `json:"recipients" validate:"required,min=1,max=500,dive,required,max=32"`
	messageReq
}

// taskView adds the stored options to the task JSON.
type taskView struct {
	*model.MessageTask
	Options json.RawMessage `json:"options,omitempty"`
}

func viewOf(t *model.MessageTask) taskView {
	v := taskView{MessageTask: t}
	if len(t.Options) > 0 {
		v.Options = json.RawMessage(t.Options)
	}
	return v
}

type taskHandlers struct {
	svc TaskService
}

func (h taskHandlers) create(c echo.Context) error {
	u, ok := middleware.UserFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}

	var req createReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
	}

	if err := c.Validate(&req); err != nil {
		return respondError(c, err)
	}

	t, err := h.svc.Create(c.Request().Context(), task.CreateRequest{
		Recipient: strings.TrimSpace(req.Recipient),
		Message:   req.message(u.ID),
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, viewOf(t))
}

func (h taskHandlers) batch(c echo.Context) error {
	u, ok := middleware.UserFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}

	var req batchReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
	}

	if err := c.Validate(&req); err != nil {
		return respondError(c, err)
	}

	res, err := h.svc.Batch(c.Request().Context(), task.BatchRequest{
		Recipients: req.Recipients,
		Message:    req.message(u.ID),
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, res)
}

// owned loads the task and hides tasks of other users from non-admins.
func (h taskHandlers) owned(c echo.Context) (*model.MessageTask, error) {
	t, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}

	u, ok := middleware.UserFromCtx(c)
	if !ok {
		return nil, repository.ErrNotFound
	}

	if !u.IsAdmin() && (t.CreatedBy == nil || *t.CreatedBy != u.ID) {
		return nil, repository.ErrNotFound
	}
	return t, nil
}

func (h taskHandlers) get(c echo.Context) error {
	t, err := h.owned(c)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(t))
}

func (h taskHandlers) list(c echo.Context) error {
	u, ok := middleware.UserFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}

	f := repository.TaskFilter{
		Status:    model.TaskStatus(strings.ToLower(strings.TrimSpace(c.QueryParam("status")))),
		Recipient: strings.TrimSpace(c.QueryParam("recipient")),
		Limit:     50,
	}
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			f.Limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			f.Offset = n
		}
	}
	if !u.IsAdmin() {
		f.CreatedBy = &u.ID
	}

	tasks, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return respondError(c, err)
	}

	results := make([]taskView, 0, len(tasks))
	for i := range tasks {
		results = append(results, viewOf(&tasks[i]))
	}

	return c.JSON(http.StatusOK, map[string]any{
		"limit":   f.Limit,
		"offset":  f.Offset,
		"count":   len(results),
		"results": results,
	})
}

func (h taskHandlers) cancel(c echo.Context) error {
	if _, err := h.owned(c); err != nil {
		return respondError(c, err)
	}

	t, err := h.svc.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": t.Status, "task_id": t.ID})
}

func (h taskHandlers) retry(c echo.Context) error {
	if _, err := h.owned(c); err != nil {
		return respondError(c, err)
	}

	t, err := h.svc.Retry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": t.Status, "task_id": t.ID})
}

func (h taskHandlers) delete(c echo.Context) error {
	if _, err := h.owned(c); err != nil {
		return respondError(c, err)
	}

	if err := h.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h taskHandlers) logs(c echo.Context) error {
	if _, err := h.owned(c); err != nil {
		return respondError(c, err)
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	logs, err := h.svc.Logs(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"count": len(logs), "results": logs})
}

func (h taskHandlers) statistics(c echo.Context) error {
	u, ok := middleware.UserFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}

	var createdBy *int64
	if !u.IsAdmin() {
		createdBy = &u.ID
	}

	st, err := h.svc.Statistics(c.Request().Context(), createdBy)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// respondError maps service errors onto status codes.
func respondError(c echo.Context, err error) error {
	var verr *options.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":  "validation_error",
			"field":  verr.Field,
			"detail": verr.Reason,
		})
	case errors.Is(err, options.ErrValidation):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "validation_error", "detail": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, task.ErrNotCancellable),
		errors.Is(err, task.ErrNotRetryable),
		errors.Is(err, model.ErrIllegalTransition):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}

	logger.Log.Error("request failed",
		zap.String("path", c.Path()),
		zap.String("method", c.Request().Method),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
