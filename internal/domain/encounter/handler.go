package encounter

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/emr/emr/internal/platform/auth"
	"github.com/emr/emr/pkg/pagination"
)

// Handler exposes the coordinator over HTTP. It is a thin translation
// layer: all rules live in the service.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "physician", "nurse", "registrar"))
	read.GET("/encounters", h.ListEncounters)
	read.GET("/encounters/:id", h.GetEncounter)
	read.GET("/encounters/:id/details", h.GetEncounterDetails)
	read.GET("/encounters/:id/can-close", h.ValidateForClosing)
	read.GET("/encounters/outcomes", h.ListOutcomes)
	read.GET("/encounters/outcomes/:code", h.GetOutcomeRequirements)
	read.GET("/encounters/commands/history", h.GetCommandHistory)

	write := api.Group("", auth.RequireRole("admin", "physician"))
	write.POST("/encounters", h.CreateEncounter)
	write.POST("/encounters/:id/close", h.CloseEncounter)
	write.POST("/encounters/:id/reopen", h.ReopenEncounter)
	write.POST("/encounters/:id/archive", h.ArchiveEncounter)
	write.POST("/encounters/:id/unarchive", h.UnarchiveEncounter)
	write.POST("/encounters/commands/undo", h.UndoLastOperation)
}

// httpStatus maps an operation error to an HTTP status.
func httpStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindCollaborator:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func operationError(err error) *echo.HTTPError {
	return echo.NewHTTPError(httpStatus(err), err.Error())
}

func (h *Handler) CreateEncounter(c echo.Context) error {
	var enc Encounter
	if err := c.Bind(&enc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateEncounter(c.Request().Context(), &enc); err != nil {
		return operationError(err)
	}
	return c.JSON(http.StatusCreated, enc)
}

func (h *Handler) GetEncounter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	enc, err := h.svc.GetEncounter(c.Request().Context(), id)
	if err != nil {
		return operationError(err)
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) GetEncounterDetails(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	details, err := h.svc.EncounterDetails(c.Request().Context(), id)
	if err != nil {
		return operationError(err)
	}
	return c.JSON(http.StatusOK, details)
}

func (h *Handler) ListEncounters(c echo.Context) error {
	pg := pagination.FromContext(c)

	if patientID := c.QueryParam("patient_id"); patientID != "" {
		pid, err := uuid.Parse(patientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		encs, total, err := h.svc.ListEncountersByPatient(c.Request().Context(), pid, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(encs, total, pg.Limit, pg.Offset))
	}

	encs, total, err := h.svc.ListEncounters(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(encs, total, pg.Limit, pg.Offset))
}

type closeRequest struct {
	Outcome              Outcome    `json:"outcome"`
	TransferDepartmentID *uuid.UUID `json:"transfer_department_id,omitempty"`
}

func (h *Handler) CloseEncounter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req closeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := h.svc.Close(c.Request().Context(), id, req.Outcome, req.TransferDepartmentID, actorFrom(c)); err != nil {
		return operationError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"closed": true})
}

func (h *Handler) ReopenEncounter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Reopen(c.Request().Context(), id, actorFrom(c)); err != nil {
		return operationError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"reopened": true})
}

func (h *Handler) ArchiveEncounter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Archive(c.Request().Context(), id, actorFrom(c)); err != nil {
		return operationError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"archived": true})
}

func (h *Handler) UnarchiveEncounter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Unarchive(c.Request().Context(), id, actorFrom(c)); err != nil {
		return operationError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"unarchived": true})
}

// ValidateForClosing reports whether the encounter could be closed
// right now, without closing it. Guard failures come back in the body
// with a 200 so clients can show the reason.
func (h *Handler) ValidateForClosing(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.ValidateForClosing(c.Request().Context(), id); err != nil {
		if IsValidation(err) {
			return c.JSON(http.StatusOK, map[string]interface{}{
				"can_close": false,
				"reason":    err.Error(),
			})
		}
		return operationError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"can_close": true})
}

func (h *Handler) ListOutcomes(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.AvailableOutcomes())
}

func (h *Handler) GetOutcomeRequirements(c echo.Context) error {
	req, err := h.svc.OutcomeRequirements(Outcome(c.Param("code")))
	if err != nil {
		return operationError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) UndoLastOperation(c echo.Context) error {
	undone := h.svc.UndoLastOperation(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]bool{"undone": undone})
}

func (h *Handler) GetCommandHistory(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"history": h.svc.CommandHistory(),
		"last":    h.svc.LastCommand(),
	})
}

func actorFrom(c echo.Context) Actor {
	id, _ := uuid.Parse(auth.UserID(c))
	return Actor{
		ID:   id,
		Name: auth.UserName(c),
		Role: auth.UserRole(c),
	}
}
