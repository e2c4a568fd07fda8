package aggregate

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chartsync/chartsync/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	readGroup.GET("/patient-data", h.GetPatientData)

	writeGroup := api.Group("", auth.RequireRole("admin", "physician"))
	writeGroup.PUT("/patient-data", h.UpdatePatientData)
	writeGroup.POST("/patient-data", h.CreatePatientData)
	writeGroup.DELETE("/patient-data", h.DeletePatientData)
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

func (h *Handler) GetPatientData(c echo.Context) error {
	patientID := c.QueryParam("patient_id")
	if patientID == "" {
		return errorJSON(c, http.StatusBadRequest, "patient_id required")
	}
	bundle, err := h.svc.Fetch(c.Request().Context(), patientID)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, bundle)
}

type updateRequest struct {
	Table     string `json:"table"`
	ID        string `json:"id"`
	Updates   Row    `json:"updates"`
	PatientID string `json:"patient_id,omitempty"`
}

func (h *Handler) UpdatePatientData(c echo.Context) error {
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	if req.Table == "" || req.ID == "" {
		return errorJSON(c, http.StatusBadRequest, "table and id required")
	}
	row, err := h.svc.Update(c.Request().Context(), req.Table, req.ID, req.Updates)
	if err != nil {
		var notAllowed *ErrTableNotAllowed
		if errors.As(err, &notAllowed) {
			return errorJSON(c, http.StatusBadRequest, notAllowed.Error())
		}
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": row})
}

type createRequest struct {
	Table  string `json:"table"`
	Record Row    `json:"record"`
}

func (h *Handler) CreatePatientData(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	if req.Table == "" || len(req.Record) == 0 {
		return errorJSON(c, http.StatusBadRequest, "table and record required")
	}
	row, err := h.svc.Create(c.Request().Context(), req.Table, req.Record)
	if err != nil {
		var notAllowed *ErrTableNotAllowed
		if errors.As(err, &notAllowed) {
			return errorJSON(c, http.StatusBadRequest, notAllowed.Error())
		}
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": row})
}

func (h *Handler) DeletePatientData(c echo.Context) error {
	table := c.QueryParam("table")
	id := c.QueryParam("id")
	if table == "" || id == "" {
		return errorJSON(c, http.StatusBadRequest, "table and id required")
	}
	if err := h.svc.Delete(c.Request().Context(), table, id); err != nil {
		var notAllowed *ErrTableNotAllowed
		if errors.As(err, &notAllowed) {
			return errorJSON(c, http.StatusBadRequest, notAllowed.Error())
		}
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
