// Package handlers is the thin HTTP surface the till UI calls into. All
// business behavior lives in the core; handlers only bind, delegate and
// translate errors to status codes.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/tillworks/possync/internal/cache"
	"github.com/tillworks/possync/internal/core"
	"github.com/tillworks/possync/internal/queue"
	"github.com/tillworks/possync/internal/rpc"
	"github.com/tillworks/possync/internal/session"
	"github.com/tillworks/possync/internal/validation"
)

// RegisterRoutes mounts the core's operations on the router.
func RegisterRoutes(r *gin.Engine, c *core.Core) {
	v := validation.New()

	r.POST("/cache/load", loadCache(c))
	r.GET("/cache/raw", rawPayload(c))
	r.GET("/cache/:model", cachedRecords(c))

	r.POST("/orders", createOrder(c, v))
	r.GET("/orders/pending", pendingOrders(c))
	r.GET("/orders/:local_id", orderByID(c))
	r.POST("/orders/cleanup", cleanupOrders(c))

	r.POST("/sync", syncAll(c))
	r.POST("/sync/:local_id", syncOne(c))

	r.POST("/sessions/ensure-open", ensureOpen(c))
	r.POST("/sessions/:id/close", closeSession(c))
}

// statusFor maps core errors to HTTP statuses. Auth failures get 401 so the
// session-owning collaborator knows to re-authenticate.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rpc.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, queue.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func loadCache(c *core.Core) gin.HandlerFunc {
	type request struct {
		SessionID int64  `json:"session_id" binding:"required"`
		Force     bool   `json:"force"`
		Model     string `json:"model"`
	}
	return func(g *gin.Context) {
		var req request
		if err := g.ShouldBindJSON(&req); err != nil {
			g.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
			return
		}
		sets, err := c.Cache.Load(g.Request.Context(), req.SessionID,
			cache.Options{Force: req.Force, Model: req.Model})
		if err != nil {
			g.JSON(statusFor(err), gin.H{"error": "load_failed", "detail": err.Error()})
			return
		}
		counts := make(map[string]int, len(sets))
		for model, rs := range sets {
			counts[model] = len(rs.Records)
		}
		g.JSON(http.StatusOK, gin.H{"loaded": counts})
	}
}

func cachedRecords(c *core.Core) gin.HandlerFunc {
	return func(g *gin.Context) {
		model := g.Param("model")
		g.JSON(http.StatusOK, gin.H{
			"model":   model,
			"records": c.Cache.RecordsFor(g.Request.Context(), model),
		})
	}
}

func rawPayload(c *core.Core) gin.HandlerFunc {
	return func(g *gin.Context) {
		raw := c.Cache.DebugRawPayload(g.Request.Context())
		if raw == nil {
			g.JSON(http.StatusNotFound, gin.H{"error": "no_payload_loaded"})
			return
		}
		g.Data(http.StatusOK, "application/json", raw)
	}
}

func createOrder(c *core.Core, v *validatorv10.Validate) gin.HandlerFunc {
	return func(g *gin.Context) {
		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(g, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		o, err := c.Queue.Enqueue(g.Request.Context(), orderPayload(req))
		if err != nil {
			g.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue_failed", "detail": err.Error()})
			return
		}
		g.JSON(http.StatusCreated, gin.H{"local_id": o.LocalID, "status": o.Status})
	}
}

// orderPayload flattens the validated request into the order-shape map the
// queue stores and the sync coordinator maps to the wire.
func orderPayload(req validation.CreateOrderRequest) map[string]interface{} {
	lines := make([]interface{}, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, map[string]interface{}{
			"product_id": l.ProductID,
			"qty":        l.Qty,
			"price_unit": l.PriceUnit,
			"discount":   l.Discount,
		})
	}
	payments := make([]interface{}, 0, len(req.Payments))
	for _, p := range req.Payments {
		payments = append(payments, map[string]interface{}{
			"method_id": p.MethodID,
			"amount":    p.Amount,
		})
	}
	payload := map[string]interface{}{
		"lines":        lines,
		"payments":     payments,
		"amount_total": req.AmountTotal,
		"amount_tax":   req.AmountTax,
		"session_id":   req.SessionID,
		"user_id":      req.UserID,
		"state":        "paid",
	}
	if req.PartnerID != 0 {
		payload["partner_id"] = req.PartnerID
	}
	return payload
}

func pendingOrders(c *core.Core) gin.HandlerFunc {
	return func(g *gin.Context) {
		orders, err := c.Queue.Pending(g.Request.Context())
		if err != nil {
			g.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "detail": err.Error()})
			return
		}
		g.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
	}
}

func orderByID(c *core.Core) gin.HandlerFunc {
	return func(g *gin.Context) {
		o, err := c.Queue.ByLocalID(g.Request.Context(), g.Param("local_id"))
		if err != nil {
			g.JSON(statusFor(err), gin.H{"error": "order_not_found"})
			return
		}
		g.JSON(http.StatusOK, o)
	}
}

func cleanupOrders(c *core.Core) gin.HandlerFunc {
	type request struct {
		OlderThanHours int `json:"older_than_hours" binding:"required,gt=0"`
	}
	return func(g *gin.Context) {
		var req request
		if err := g.ShouldBindJSON(&req); err != nil {
			g.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
			return
		}
		removed, err := c.Queue.Cleanup(g.Request.Context(), time.Duration(req.OlderThanHours)*time.Hour)
		if err != nil {
			g.JSON(http.StatusInternalServerError, gin.H{"error": "cleanup_failed", "detail": err.Error()})
			return
		}
		g.JSON(http.StatusOK, gin.H{"removed": removed})
	}
}

func syncAll(c *core.Core) gin.HandlerFunc {
	return func(g *gin.Context) {
		report, err := c.Sync.SyncAll(g.Request.Context())
		if err != nil {
			g.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed", "detail": err.Error()})
			return
		}
		g.JSON(http.StatusOK, report)
	}
}

func syncOne(c *core.Core) gin.HandlerFunc {
	return func(g *gin.Context) {
		localID := g.Param("local_id")
		serverID, err := c.Sync.SyncOne(g.Request.Context(), localID)
		if err != nil {
			g.JSON(statusFor(err), gin.H{"error": "sync_failed", "local_id": localID, "detail": err.Error()})
			return
		}
		g.JSON(http.StatusOK, gin.H{"local_id": localID, "server_id": serverID})
	}
}

func ensureOpen(c *core.Core) gin.HandlerFunc {
	type request struct {
		ConfigID int64 `json:"config_id" binding:"required,gt=0"`
		UserID   int64 `json:"user_id" binding:"required,gt=0"`
	}
	return func(g *gin.Context) {
		var req request
		if err := g.ShouldBindJSON(&req); err != nil {
			g.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
			return
		}
		s, err := c.Sessions.EnsureOpen(g.Request.Context(), req.ConfigID, req.UserID)
		if err != nil {
			g.JSON(statusFor(err), gin.H{"error": "ensure_open_failed", "detail": err.Error()})
			return
		}
		g.JSON(http.StatusOK, s)
	}
}

func closeSession(c *core.Core) gin.HandlerFunc {
	type request struct {
		UserID int64 `json:"user_id" binding:"required,gt=0"`
	}
	return func(g *gin.Context) {
		id, err := strconv.ParseInt(g.Param("id"), 10, 64)
		if err != nil {
			g.JSON(http.StatusBadRequest, gin.H{"error": "invalid_session_id"})
			return
		}
		var req request
		if err := g.ShouldBindJSON(&req); err != nil {
			g.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
			return
		}
		s, err := c.Sessions.Read(g.Request.Context(), id)
		if err != nil {
			g.JSON(statusFor(err), gin.H{"error": "session_read_failed", "detail": err.Error()})
			return
		}
		s, err = c.Sessions.Close(g.Request.Context(), s, req.UserID)
		if err != nil {
			g.JSON(statusFor(err), gin.H{"error": "close_failed", "detail": err.Error()})
			return
		}
		g.JSON(http.StatusOK, s)
	}
}
