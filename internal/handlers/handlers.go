package handlers

import (
	"errors"
	"image"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yekkaplan/tcidverify-sub000/internal/auth"
	"github.com/yekkaplan/tcidverify-sub000/internal/engine"
	"github.com/yekkaplan/tcidverify-sub000/internal/scoring"
	"github.com/yekkaplan/tcidverify-sub000/internal/usecase"

	_ "image/jpeg"
	_ "image/png"
)

// MaxUploadSize caps frame uploads in bytes.
const MaxUploadSize = 10 << 20

// RegisterRoutes wires the HTTP handlers to the Gin router. All session
// routes sit behind the bearer-token middleware; the token subject owns the
// sessions it creates.
func RegisterRoutes(router *gin.Engine, svc *usecase.SessionService, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	sessions := router.Group("/sessions", authMiddleware)
	sessions.POST("", createSession(svc))
	sessions.GET("/:id", getSession(svc))
	sessions.POST("/:id/frames", submitFrame(svc))
	sessions.POST("/:id/capture", captureSide(svc))
	sessions.POST("/:id/complete", completeSession(svc))
	sessions.DELETE("/:id", cancelSession(svc))

	router.GET("/metrics/summary", authMiddleware, metricsSummary(svc))
}

func createSession(svc *usecase.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing subject"})
			return
		}
		snap, err := svc.Create(c.Request.Context(), subject)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, snap)
	}
}

func getSession(svc *usecase.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing subject"})
			return
		}
		snap, err := svc.Snapshot(c.Request.Context(), subject, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

// submitFrame decodes the uploaded frame and enqueues it. The response is
// immediate: the post-enqueue snapshot plus whether the frame was accepted
// or dropped under the keep-only-latest policy.
func submitFrame(svc *usecase.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing subject"})
			return
		}
		side, ok := scoring.ParseSide(c.Query("side"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "side must be front or back"})
			return
		}
		if c.Request.ContentLength > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "frame too large"})
			return
		}

		file, err := c.FormFile("frame")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "frame file is required"})
			return
		}
		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open frame"})
			return
		}
		defer src.Close()

		frame, _, err := image.Decode(src)
		if err != nil {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "frame must be a JPEG or PNG image"})
			return
		}

		snap, accepted, err := svc.SubmitFrame(c.Request.Context(), subject, c.Param("id"), side, frame)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"accepted": accepted,
			"snapshot": snap,
		})
	}
}

func captureSide(svc *usecase.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing subject"})
			return
		}
		side, ok := scoring.ParseSide(c.Query("side"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "side must be front or back"})
			return
		}
		res, err := svc.Capture(c.Request.Context(), subject, c.Param("id"), side)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func completeSession(svc *usecase.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing subject"})
			return
		}
		res, err := svc.Complete(c.Request.Context(), subject, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func cancelSession(svc *usecase.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing subject"})
			return
		}
		if err := svc.Cancel(c.Request.Context(), subject, c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func metricsSummary(svc *usecase.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func respondError(c *gin.Context, err error) {
	var notReady *engine.NotReadyError
	switch {
	case errors.Is(err, engine.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, usecase.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "session owned by another subject"})
	case errors.Is(err, engine.ErrSessionCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": "session already completed"})
	case errors.As(err, &notReady):
		c.JSON(http.StatusConflict, gin.H{
			"error":   notReady.Error(),
			"tags":    notReady.Tags(),
			"missing": notReady.Missing,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
