package engine

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/drummonds/qrdocs/database"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
)

// GetExtraction retrieves an extraction by ID
// @Summary Get extraction by ID
// @Description Retrieve the history record of a single upload
// @Tags History
// @Accept json
// @Produce json
// @Param id path string true "Extraction ID (ULID)"
// @Success 200 {object} database.Extraction "Extraction details"
// @Failure 400 {object} map[string]interface{} "Invalid extraction ID"
// @Failure 404 {object} map[string]interface{} "Extraction not found"
// @Failure 503 {object} map[string]interface{} "History disabled"
// @Router /extractions/{id} [get]
func (serverHandler *ServerHandler) GetExtraction(c echo.Context) error {
	idStr := c.Param("id")

	id, err := ulid.Parse(idStr)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid extraction ID format")
	}

	extraction, err := serverHandler.DB.GetExtraction(id)
	switch {
	case errors.Is(err, database.ErrNoDatabase):
		return errorJSON(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, database.ErrExtractionNotFound):
		return errorJSON(c, http.StatusNotFound, "Extraction not found")
	case err != nil:
		Logger.Error("Failed to get extraction", "id", idStr, "error", err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to retrieve extraction")
	}

	return c.JSON(http.StatusOK, extraction)
}

// GetRecentExtractions retrieves recent extractions with pagination
// @Summary Get recent extractions
// @Description Retrieve a list of recent uploads with pagination
// @Tags History
// @Accept json
// @Produce json
// @Param limit query int false "Number of extractions to return (default: 20)"
// @Param offset query int false "Offset for pagination (default: 0)"
// @Success 200 {array} database.Extraction "List of extractions"
// @Failure 503 {object} map[string]interface{} "History disabled"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /extractions [get]
func (serverHandler *ServerHandler) GetRecentExtractions(c echo.Context) error {
	limit := 20
	offset := 0

	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := c.QueryParam("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	extractions, err := serverHandler.DB.GetRecentExtractions(limit, offset)
	if errors.Is(err, database.ErrNoDatabase) {
		return errorJSON(c, http.StatusServiceUnavailable, err.Error())
	}
	if err != nil {
		Logger.Error("Failed to get recent extractions", "error", err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to retrieve extractions")
	}

	if extractions == nil {
		extractions = []database.Extraction{}
	}

	return c.JSON(http.StatusOK, extractions)
}
