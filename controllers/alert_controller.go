package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chartstream-backend/middleware"
	"chartstream-backend/models"
	"chartstream-backend/services/alerts"
	"chartstream-backend/services/triggerlog"
)

// AlertController handles alert CRUD and history requests
type AlertController struct {
	alerts  *alerts.Service
	history *triggerlog.Service // nil when no database is configured
}

// NewAlertController creates a new alert controller
func NewAlertController(alertService *alerts.Service, history *triggerlog.Service) *AlertController {
	return &AlertController{alerts: alertService, history: history}
}

// CreateAlert creates a new alert for the authenticated user
// POST /api/v1/alerts
func (ac *AlertController) CreateAlert(c *gin.Context) {
	userID, err := middleware.GetUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request models.CreateAlertRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alert, err := ac.alerts.CreateAlert(userID, request)
	if err != nil {
		if errors.Is(err, alerts.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create alert"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": alert})
}

// GetAlerts returns the authenticated user's alerts, newest first
// GET /api/v1/alerts
func (ac *AlertController) GetAlerts(c *gin.Context) {
	userID, err := middleware.GetUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": ac.alerts.GetUserAlerts(userID)})
}

// GetAlert returns one alert by ID
// GET /api/v1/alerts/:id
func (ac *AlertController) GetAlert(c *gin.Context) {
	userID, err := middleware.GetUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	alert, err := ac.alerts.GetAlert(userID, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": alert})
}

// DeleteAlert removes one of the user's alerts
// DELETE /api/v1/alerts/:id
func (ac *AlertController) DeleteAlert(c *gin.Context) {
	userID, err := middleware.GetUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := ac.alerts.DeleteAlert(userID, c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Alert deleted"})
}

// ResetAlert re-arms a triggered alert
// POST /api/v1/alerts/:id/reset
func (ac *AlertController) ResetAlert(c *gin.Context) {
	userID, err := middleware.GetUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := ac.alerts.ResetAlert(userID, c.Param("id")); err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Alert reset to active"})
}

// GetHistory returns the user's trigger history
// GET /api/v1/alerts/history
func (ac *AlertController) GetHistory(c *gin.Context) {
	userID, err := middleware.GetUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if ac.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Trigger history is not available"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	events, err := ac.history.Recent(userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch trigger history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": events})
}
