package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/campus-alert-relay/internal/alerts"
	"github.com/mr1hm/campus-alert-relay/internal/metrics"
	"github.com/mr1hm/campus-alert-relay/internal/profiles"
	"github.com/mr1hm/campus-alert-relay/internal/users"
)

const defaultMaxListLimit = 500

type Options struct {
	AdminAPIKey  string
	MaxListLimit int
	DashboardDir string
	Metrics      *metrics.Metrics
}

type Handler struct {
	alerts   *alerts.Manager
	users    *users.Service
	profiles *profiles.Service
	opts     Options
}

func NewHandler(a *alerts.Manager, u *users.Service, p *profiles.Service, opts Options) *Handler {
	if opts.MaxListLimit <= 0 {
		opts.MaxListLimit = defaultMaxListLimit
	}
	return &Handler{
		alerts:   a,
		users:    u,
		profiles: p,
		opts:     opts,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/api", h.info)
	r.GET("/api/health", h.health)

	r.POST("/api/emergency-alert", h.createAlert)
	r.POST("/api/alerts/create", h.createAlert)
	r.GET("/api/alerts", h.listAlerts)
	r.GET("/api/alerts.geojson", h.alertsGeoJSON)
	r.PUT("/api/alerts/:alertId/respond", h.respond)

	r.POST("/api/medical-profile", h.upsertProfile)
	r.GET("/api/medical-profile/:userId", h.getProfile)

	r.POST("/api/register", h.register)
	r.POST("/api/login", h.login)
	r.POST("/api/admin/login", h.adminLogin)

	admin := r.Group("/api/admin", h.requireAdmin())
	admin.GET("/users", h.listUsers)
	admin.GET("/medical-profiles", h.listProfiles)

	if h.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.opts.Metrics.Handler()))
	}
	if h.opts.DashboardDir != "" {
		r.Static("/admin", h.opts.DashboardDir)
		r.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusFound, "/admin/")
		})
	}
}

type createAlertRequest struct {
	Location    *alerts.LocationInput `json:"location"`
	StudentName string                `json:"studentName"`
	UserID      string                `json:"userId"`
	AlertType   string                `json:"alertType"`
}

func (h *Handler) createAlert(c *gin.Context) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		// A coordinate of the wrong type counts as missing location.
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) || !strings.HasPrefix(typeErr.Field, "location") {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
			return
		}
		req.Location = nil
	}

	receipt, err := h.alerts.Create(c.Request.Context(), alerts.NewAlert{
		Location:    req.Location,
		StudentName: req.StudentName,
		SubjectID:   req.UserID,
		AlertType:   req.AlertType,
	})
	if err != nil {
		var verr *alerts.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": verr.Message})
			return
		}
		slog.Error("failed to create alert", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":   true,
		"alertId":   receipt.AlertID,
		"message":   "Emergency alert sent successfully",
		"timestamp": receipt.Timestamp,
	})
}

func (h *Handler) listAlerts(c *gin.Context) {
	page, err := h.alerts.List(c.Request.Context(), h.parseQuery(c))
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to fetch alerts",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"alerts":       page.Alerts,
		"total":        page.Total,
		"activeAlerts": page.ActiveCount,
	})
}

func (h *Handler) alertsGeoJSON(c *gin.Context) {
	page, err := h.alerts.List(c.Request.Context(), h.parseQuery(c))
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to fetch alerts"})
		return
	}

	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, toGeoJSON(page.Alerts))
}

type respondRequest struct {
	Status      string `json:"status"`
	RespondedBy string `json:"respondedBy"`
}

func (h *Handler) respond(c *gin.Context) {
	var req respondRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	alert, err := h.alerts.Respond(c.Request.Context(), c.Param("alertId"), alerts.Response{
		Status:      req.Status,
		RespondedBy: req.RespondedBy,
	})
	if errors.Is(err, alerts.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Alert not found"})
		return
	}
	if err != nil {
		slog.Error("failed to record response", "alert_id", c.Param("alertId"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to update alert",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Alert response recorded",
		"alert":   alert,
	})
}

func (h *Handler) health(c *gin.Context) {
	stats, err := h.alerts.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"timestamp":       time.Now().UTC(),
		"connectedAdmins": stats.ConnectedAdmins,
		"totalAlerts":     stats.TotalAlerts,
		"activeAlerts":    stats.ActiveAlerts,
	})
}

func (h *Handler) info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":         "Campus Emergency Alert Relay",
		"status":          "active",
		"timestamp":       time.Now().UTC(),
		"connectedAdmins": h.alerts.ConnectedObservers(),
	})
}

func (h *Handler) upsertProfile(c *gin.Context) {
	var req profiles.Update
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body", "error": err.Error()})
		return
	}

	p, err := h.profiles.Upsert(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, profiles.ErrInvalid) {
			status = http.StatusBadRequest
		} else {
			slog.Error("failed to update medical profile", "user_id", req.UserID, "error", err)
		}
		c.JSON(status, gin.H{
			"success": false,
			"message": "Failed to update medical profile",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Medical profile updated successfully",
		"profile": p,
	})
}

func (h *Handler) getProfile(c *gin.Context) {
	p, err := h.profiles.Get(c.Request.Context(), c.Param("userId"))
	if errors.Is(err, profiles.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Medical profile not found"})
		return
	}
	if err != nil {
		slog.Error("failed to fetch medical profile", "user_id", c.Param("userId"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to fetch medical profile",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "profile": p})
}

func (h *Handler) register(c *gin.Context) {
	var req users.Registration
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body"})
		return
	}

	_, err := h.users.Register(c.Request.Context(), req)
	switch {
	case errors.Is(err, users.ErrUserExists):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Username already exists"})
	case errors.Is(err, users.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
	case err != nil:
		slog.Error("registration failed", "username", req.Username, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Registration failed",
			"error":   err.Error(),
		})
	default:
		c.JSON(http.StatusCreated, gin.H{"success": true, "message": "User registered successfully"})
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body"})
		return
	}

	sess, err := h.users.Login(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid credentials"})
		return
	}
	if err != nil {
		slog.Error("login failed", "username", req.Username, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Login failed", "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user": gin.H{
			"id":       sess.User.ID,
			"username": sess.User.Username,
			"name":     sess.User.Name,
			"role":     sess.User.Role,
		},
		"token": sess.Token,
	})
}

func (h *Handler) adminLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body"})
		return
	}

	sess, err := h.users.AdminLogin(req.Username, req.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid credentials"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Login error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"admin": gin.H{
			"id":   sess.User.ID,
			"name": sess.User.Name,
			"role": sess.User.Role,
		},
		"token": sess.Token,
	})
}

func (h *Handler) listUsers(c *gin.Context) {
	list, err := h.users.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "users": list})
}

func (h *Handler) listProfiles(c *gin.Context) {
	list, err := h.profiles.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "profiles": list})
}

func (h *Handler) parseQuery(c *gin.Context) alerts.Query {
	q := alerts.Query{Status: c.Query("status")}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 {
			q.Limit = min(lim, h.opts.MaxListLimit)
		}
	}
	return q
}

// bindOptionalJSON decodes the body when there is one. It writes a 400 and
// returns false on malformed JSON.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
	return false
}
