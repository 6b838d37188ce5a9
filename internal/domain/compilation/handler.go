package compilation

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/cbm/medreport/internal/domain/report"
	"github.com/cbm/medreport/internal/domain/roster"
	"github.com/cbm/medreport/internal/domain/study"
	"github.com/cbm/medreport/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/dates", h.ListDates)
	api.GET("/dates/:date/patients", h.ListPatients)
	api.POST("/dates/:date/split", h.Split)
	api.POST("/dates/:date/reports", h.BuildAll)
	api.POST("/dates/:date/reports/:row", h.BuildOne)
	api.GET("/dates/:date/reports", h.History)
	api.GET("/dates/:date/packets/:name", h.DownloadPacket)
}

// httpError maps domain errors to HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrBusy):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, study.ErrDateNotFound),
		errors.Is(err, roster.ErrRosterNotFound),
		errors.Is(err, ErrPacketNotFound),
		errors.Is(err, roster.ErrRowOutOfRange):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, roster.ErrMissingColumns),
		errors.Is(err, roster.ErrEmptyRoster):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) ListDates(c echo.Context) error {
	dates, err := h.svc.Dates()
	if err != nil {
		return httpError(err)
	}
	if dates == nil {
		dates = []string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"dates": dates})
}

func (h *Handler) ListPatients(c echo.Context) error {
	r, err := h.svc.Patients(c.Param("date"))
	if err != nil {
		return httpError(err)
	}
	pg := pagination.FromContext(c)
	start, end := pg.Window(len(r.Records))
	return c.JSON(http.StatusOK, pagination.NewResponse(r.Records[start:end], len(r.Records), pg.Limit, pg.Offset))
}

func (h *Handler) Split(c echo.Context) error {
	run, err := h.svc.Split(c.Request().Context(), c.Param("date"))
	if err != nil && run == nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, run)
}

func (h *Handler) BuildAll(c echo.Context) error {
	run, err := h.svc.BuildAll(c.Request().Context(), c.Param("date"))
	if err != nil && (run == nil || run.Summary == nil) {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, run)
}

// BuildOne returns the run even when the packet was not written, so the run
// log reaches the operator. A missing cover answers 422.
func (h *Handler) BuildOne(c echo.Context) error {
	row, err := strconv.Atoi(c.Param("row"))
	if err != nil || row < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "row must be a non-negative integer")
	}
	run, err := h.svc.BuildOne(c.Request().Context(), c.Param("date"), row)
	if err != nil && (run == nil || run.Summary == nil || len(run.Summary.Results) == 0) {
		return httpError(err)
	}
	status := http.StatusOK
	if res := run.Summary.Results[0]; res.Output == "" && errors.Is(err, report.ErrMissingCover) {
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, run)
}

func (h *Handler) History(c echo.Context) error {
	pg := pagination.FromContext(c)
	runs, total, err := h.svc.History(c.Request().Context(), c.Param("date"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(runs, total, pg.Limit, pg.Offset))
}

func (h *Handler) DownloadPacket(c echo.Context) error {
	path, err := h.svc.Packet(c.Param("date"), c.Param("name"))
	if err != nil {
		return httpError(err)
	}
	f, err := os.Open(path)
	if err != nil {
		return httpError(err)
	}
	defer f.Close()

	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filepath.Base(path)))
	return c.Stream(http.StatusOK, "application/pdf", f)
}
