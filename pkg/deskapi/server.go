// Package deskapi exposes the desk service as JSON over HTTP.
package deskapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/kiosklab/corelink/pkg/desk"
	"github.com/kiosklab/corelink/pkg/diag"
	"github.com/kiosklab/corelink/pkg/queue"
	"github.com/kiosklab/corelink/pkg/upstream"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Archive is the read side of the payload archive.
type Archive interface {
	List(limit int) ([]diag.Record, error)
	Get(id string) (*diag.Record, error)
}

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

type API struct {
	desk    *desk.Service
	archive Archive
}

type Option func(*API)

// WithArchive enables the archive endpoints.
func WithArchive(a Archive) Option {
	return func(api *API) {
		api.archive = a
	}
}

func NewAPI(svc *desk.Service, opts ...Option) *API {
	api := &API{desk: svc}
	for _, opt := range opts {
		opt(api)
	}
	return api
}

// NewServer returns an echo instance serving the API under /api.
func NewServer(api *API) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}
	e.Use(middleware.Recover())
	e.Use(ErrorLogMiddleware)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	api.MountRoutes(e.Group("/api"))
	return e
}

func (a *API) MountRoutes(group *echo.Group) {
	group.GET("/dashboard", a.getDashboard)
	group.GET("/queue/count", a.getWaitingCount)
	group.POST("/checkins", a.postCheckin)
	group.GET("/checkins/:id", a.getCheckin)
	group.POST("/checkins/:id/member-number", a.postMemberNumber)
	group.POST("/checkins/:id/revert", a.postRevert)
	group.POST("/checkins/:id/handled", a.postHandled)
	group.GET("/checkins/:id/insights", a.getInsights)
	group.GET("/accounts/:account/transactions", a.getAccountTransactions)
	group.GET("/loans/:id", a.getLoan)
	group.GET("/stats", a.getStats)
	if a.archive != nil {
		group.GET("/archive", a.getArchive)
		group.GET("/archive/:id", a.getArchiveRecord)
	}
}

func ErrorLogMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err != nil {
			slog.Error("request failed", "error", err, "method", c.Request().Method, "path", c.Path(), "remote_addr", c.RealIP())
		}
		return err
	}
}

// httpError maps service errors to status codes. Upstream failures surface
// as 502 so the desk can tell them apart from its own errors.
func httpError(err error) error {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, diag.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, desk.ErrInvalidMemberNumber):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, desk.ErrLoansDisabled):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	}
	switch upstream.Kind(err) {
	case "not_found":
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case "auth", "rejected", "parse", "transport":
		return echo.NewHTTPError(http.StatusBadGateway, err.Error()).SetInternal(err)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}

func checkinID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid check-in id")
	}
	return id, nil
}

func (a *API) getDashboard(c echo.Context) error {
	dashboard, err := a.desk.Dashboard(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, dashboard)
}

func (a *API) getWaitingCount(c echo.Context) error {
	n, err := a.desk.WaitingCount(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": n})
}

type checkinRequest struct {
	Name         string `json:"name" validate:"required"`
	HelpTopic    string `json:"help_topic" validate:"required"`
	SubIssue     string `json:"sub_issue"`
	MemberNumber string `json:"member_number" validate:"omitempty,numeric"`
}

func (a *API) postCheckin(c echo.Context) error {
	var req checkinRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	entry, err := a.desk.CheckIn(c.Request().Context(), req.Name, req.HelpTopic, req.SubIssue, req.MemberNumber)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}

func (a *API) getCheckin(c echo.Context) error {
	id, err := checkinID(c)
	if err != nil {
		return err
	}
	view, err := a.desk.Member(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

type memberNumberRequest struct {
	MemberNumber string `json:"member_number" validate:"required"`
}

func (a *API) postMemberNumber(c echo.Context) error {
	id, err := checkinID(c)
	if err != nil {
		return err
	}
	var req memberNumberRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	view, err := a.desk.UpdateMemberNumber(c.Request().Context(), id, req.MemberNumber)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (a *API) postRevert(c echo.Context) error {
	id, err := checkinID(c)
	if err != nil {
		return err
	}
	view, err := a.desk.RevertMemberNumber(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (a *API) postHandled(c echo.Context) error {
	id, err := checkinID(c)
	if err != nil {
		return err
	}
	if err := a.desk.MarkHandled(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) getInsights(c echo.Context) error {
	id, err := checkinID(c)
	if err != nil {
		return err
	}
	view, err := a.desk.Insights(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (a *API) getAccountTransactions(c echo.Context) error {
	account := c.Param("account")
	txs, err := a.desk.AccountTransactions(c.Request().Context(), account)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"account": account, "transactions": txs})
}

func (a *API) getLoan(c echo.Context) error {
	detail, err := a.desk.LoanDetail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (a *API) getStats(c echo.Context) error {
	return c.JSON(http.StatusOK, a.desk.Stats())
}

func (a *API) getArchive(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	records, err := a.archive.List(limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, records)
}

func (a *API) getArchiveRecord(c echo.Context) error {
	record, err := a.archive.Get(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationXMLCharsetUTF8, record.Payload)
}
