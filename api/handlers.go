package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskdeck-api/domain"
)

// maxBodySize bounds request bodies; task payloads are small.
const maxBodySize = 1 << 20

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, engine Engine, auth Authenticator, logger *log.Logger) {
	e.GET("/api/tasks", listTasks(engine, auth, logger))
	e.POST("/api/tasks", createTask(engine, auth))
	e.GET("/api/tasks/dashboard", getDashboard(engine, auth))
	e.GET("/api/tasks/:id", getTask(engine, auth))
	e.PATCH("/api/tasks/:id", patchTask(engine, auth))
	e.DELETE("/api/tasks/:id", deleteTask(engine, auth))
	e.POST("/api/tasks/:id/complete", completeTask(engine, auth))
	e.POST("/api/tasks/:id/reopen", reopenTask(engine, auth))
	e.GET("/api/tasks/:id/completions", getCompletions(engine, auth))
	e.GET("/api/tags", getTagSuggestions(engine, auth))
	e.GET("/healthz", healthz())
}

type errorBody struct {
	Error string `json:"error"`
}

type completionsResponse struct {
	Completions []domain.CompletionRecord `json:"completions"`
}

type tagsResponse struct {
	Tags []domain.TagCount `json:"tags"`
}

type createRequest struct {
	Title             string                    `json:"title"`
	Description       string                    `json:"description"`
	Priority          domain.TaskPriority       `json:"priority"`
	Tags              []string                  `json:"tags"`
	DueDate           *time.Time                `json:"due_date"`
	ReminderOffset    domain.ReminderOffset     `json:"reminder_offset"`
	IsRecurring       bool                      `json:"is_recurring"`
	RecurrencePattern *domain.RecurrencePattern `json:"recurrence_pattern"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func listTasks(engine Engine, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newListRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.JSON(http.StatusUnauthorized, errorBody{Error: authErr.Error()})
		}

		q, parseErr := parseQuery(c)
		if parseErr != nil {
			metrics.SetErrorStage("parse_query")
			return c.JSON(http.StatusBadRequest, errorBody{Error: parseErr.Error()})
		}

		queryStart := time.Now()
		result, listErr := engine.List(ctx, userID, q)
		metrics.ObserveQuery(time.Since(queryStart))
		if listErr != nil {
			metrics.SetErrorStage("engine")
			return writeErr(c, listErr)
		}
		metrics.SetTasksReturned(len(result.Tasks), result.Total)

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, result)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func createTask(engine Engine, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorBody{Error: err.Error()})
		}
		var req createRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid body"})
		}
		task, err := engine.Create(c.Request().Context(), userID, domain.Draft{
			Title:             req.Title,
			Description:       req.Description,
			Priority:          req.Priority,
			Tags:              req.Tags,
			DueDate:           req.DueDate,
			ReminderOffset:    req.ReminderOffset,
			IsRecurring:       req.IsRecurring,
			RecurrencePattern: req.RecurrencePattern,
		})
		if err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusCreated, task)
	}
}

func getTask(engine Engine, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorBody{Error: err.Error()})
		}
		task, err := engine.Get(c.Request().Context(), userID, c.Param("id"))
		if err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func patchTask(engine Engine, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorBody{Error: err.Error()})
		}
		var patch domain.TaskPatch
		if err := decodeBody(c, &patch); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid body"})
		}
		task, err := engine.Update(c.Request().Context(), userID, c.Param("id"), patch)
		if err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(engine Engine, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorBody{Error: err.Error()})
		}
		if err := engine.Delete(c.Request().Context(), userID, c.Param("id")); err != nil {
			return writeErr(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func completeTask(engine Engine, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorBody{Error: err.Error()})
		}
		task, err := engine.Complete(c.Request().Context(), userID, c.Param("id"))
		if err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func reopenTask(engine Engine, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorBody{Error: err.Error()})
		}
		task, err := engine.Reopen(c.Request().Context(), userID, c.Param("id"))
		if err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func getCompletions(engine Engine, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorBody{Error: err.Error()})
		}
		recs, err := engine.Completions(c.Request().Context(), userID, c.Param("id"))
		if err != nil {
			return writeErr(c, err)
		}
		if recs == nil {
			recs = []domain.CompletionRecord{}
		}
		return c.JSON(http.StatusOK, completionsResponse{Completions: recs})
	}
}

func getDashboard(engine Engine, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorBody{Error: err.Error()})
		}
		stats, err := engine.Stats(c.Request().Context(), userID)
		if err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusOK, stats)
	}
}

func getTagSuggestions(engine Engine, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorBody{Error: err.Error()})
		}
		tags, err := engine.TagSuggestions(c.Request().Context(), userID, c.QueryParam("q"), c.QueryParams()["exclude"])
		if err != nil {
			return writeErr(c, err)
		}
		if tags == nil {
			tags = []domain.TagCount{}
		}
		return c.JSON(http.StatusOK, tagsResponse{Tags: tags})
	}
}

func decodeBody(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func parseQuery(c echo.Context) (domain.Query, error) {
	q := domain.Query{
		Text:     c.QueryParam("q"),
		Status:   domain.TaskStatus(c.QueryParam("status")),
		Priority: domain.TaskPriority(c.QueryParam("priority")),
		Tags:     c.QueryParams()["tags"],
		SortBy:   domain.SortKey(c.QueryParam("sort_by")),
	}
	q.SortOrder = domain.SortOrder(c.QueryParam("sort_order"))

	var err error
	if q.DueFrom, err = parseTimeParam(c, "due_from"); err != nil {
		return domain.Query{}, err
	}
	if q.DueTo, err = parseTimeParam(c, "due_to"); err != nil {
		return domain.Query{}, err
	}
	if q.Page, err = parseIntParam(c, "page"); err != nil {
		return domain.Query{}, err
	}
	if q.PageSize, err = parseIntParam(c, "page_size"); err != nil {
		return domain.Query{}, err
	}
	return q, nil
}

func parseTimeParam(c echo.Context, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, &domain.ValidationError{Field: name, Reason: "not an RFC3339 timestamp", Value: raw}
	}
	return &t, nil
}

func parseIntParam(c echo.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, &domain.ValidationError{Field: name, Reason: "must be a positive integer", Value: raw}
	}
	return n, nil
}

// writeErr maps engine errors onto HTTP statuses.
func writeErr(c echo.Context, err error) error {
	var vErr *domain.ValidationError
	var pErr *domain.PatternError
	switch {
	case errors.As(err, &vErr), errors.As(err, &pErr):
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrConflict):
		return c.JSON(http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrUnavailable):
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
