package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/poskusoft/pos_backend/config"
	"github.com/poskusoft/pos_backend/models"
	"github.com/poskusoft/pos_backend/notify"
	"github.com/poskusoft/pos_backend/utils"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination: handle SIGTERM/SIGINT for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	notifier := notify.New()
	notifier.Subscribe(func(productId int) {
		logger.WithFields(logrus.Fields{
			"module":    "server.go",
			"productId": productId,
		}).Debug("stock changed")
	})

	// Start the HTTP server ASAP; until DB/Redis are ready, app endpoints
	// return 503.
	r := gin.New()

	// Correlation and terminal ids: attached to the request context so
	// posting logs can tell which till a document came from.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), cid)
		if tid := c.GetHeader("x-terminal-id"); tid != "" {
			ctx = utils.SetTerminalIdInContext(ctx, tid)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate app endpoints on dependency readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production require an explicit allowlist via CORS_ALLOWED_ORIGINS
	// (comma-separated); in development allow all.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length")

	r.Use(cors.New(corsConfig))
	r.Use(requestLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api/v1")
	api.POST("/pos/checkout", posCheckoutHandler(notifier))
	api.POST("/purchases", purchaseHandler(notifier))
	api.GET("/stock/balance", stockBalanceHandler())
	api.GET("/stock/ledger", stockLedgerHandler())
	api.GET("/products", listProductsHandler())
	api.POST("/products", createProductHandler())
	api.GET("/products/resolve", resolveProductHandler())
	api.GET("/customers", listCustomersHandler())
	api.POST("/customers", createCustomerHandler())
	api.GET("/warehouses", listWarehousesHandler())
	api.POST("/warehouses", createWarehouseHandler())

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
		if rdb := config.GetRedisDB(); rdb != nil {
			_ = rdb.Close()
		}
	}()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
		models.SeedDefaultWarehouse()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	logger.WithFields(logrus.Fields{"port": port}).Info("server started")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		logger.WithFields(logrus.Fields{
			"method":        c.Request.Method,
			"path":          c.Request.URL.Path,
			"status":        c.Writer.Status(),
			"durationMs":    time.Since(start).Milliseconds(),
			"correlationId": cid,
		}).Info("request")
	}
}

// respondPostingError maps the posting error taxonomy onto HTTP statuses.
func respondPostingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrPaymentShortfall):
		c.JSON(http.StatusConflict, gin.H{
			"warning": "payment_shortfall",
			"message": "amount tendered is less than grand total; repeat with allow_shortfall=true to confirm",
		})
	case errors.Is(err, utils.ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient_stock", "message": err.Error()})
	case utils.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": err.Error()})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case utils.IsConcurrencyConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrency_conflict", "message": err.Error()})
	case utils.IsDuplicateKey(err):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence", "message": err.Error()})
	}
}

func posCheckoutHandler(notifier *notify.Notifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewPosSale
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": err.Error()})
			return
		}
		header, err := models.PostSale(c.Request.Context(), &input, notifier)
		if err != nil {
			respondPostingError(c, err)
			return
		}
		c.JSON(http.StatusCreated, header)
	}
}

func purchaseHandler(notifier *notify.Notifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewPurchase
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": err.Error()})
			return
		}
		header, err := models.PostPurchase(c.Request.Context(), &input, notifier)
		if err != nil {
			respondPostingError(c, err)
			return
		}
		c.JSON(http.StatusCreated, header)
	}
}

func stockBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		productId, err := strconv.Atoi(c.Query("product_id"))
		if err != nil || productId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "product_id is required"})
			return
		}
		warehouseId, err := strconv.Atoi(c.Query("warehouse_id"))
		if err != nil || warehouseId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "warehouse_id is required"})
			return
		}
		balance, err := models.StockBalance(c.Request.Context(), productId, warehouseId)
		if err != nil {
			respondPostingError(c, err)
			return
		}
		cached, err := models.GetStockSummary(c.Request.Context(), productId, warehouseId)
		if err != nil {
			respondPostingError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"product_id":   productId,
			"warehouse_id": warehouseId,
			"balance":      balance,
			"cached_qty":   cached,
		})
	}
}

func stockLedgerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		productId, err := strconv.Atoi(c.Query("product_id"))
		if err != nil || productId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "product_id is required"})
			return
		}
		warehouseId, err := strconv.Atoi(c.Query("warehouse_id"))
		if err != nil || warehouseId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "warehouse_id is required"})
			return
		}
		entries, err := models.LedgerEntries(c.Request.Context(), productId, warehouseId)
		if err != nil {
			respondPostingError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func listProductsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		products, err := models.GetProducts(c.Request.Context(), c.Query("q"))
		if err != nil {
			respondPostingError(c, err)
			return
		}
		c.JSON(http.StatusOK, products)
	}
}

func createProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProduct
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": err.Error()})
			return
		}
		product, err := models.CreateProduct(c.Request.Context(), &input)
		if err != nil {
			respondPostingError(c, err)
			return
		}
		c.JSON(http.StatusCreated, product)
	}
}

func resolveProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		product, err := models.ResolveProduct(c.Request.Context(), c.Query("key"))
		if err != nil {
			respondPostingError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

func listCustomersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		customers, err := models.GetCustomers(c.Request.Context())
		if err != nil {
			respondPostingError(c, err)
			return
		}
		c.JSON(http.StatusOK, customers)
	}
}

func createCustomerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCustomer
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": err.Error()})
			return
		}
		customer, err := models.CreateCustomer(c.Request.Context(), &input)
		if err != nil {
			respondPostingError(c, err)
			return
		}
		c.JSON(http.StatusCreated, customer)
	}
}

func listWarehousesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		warehouses, err := models.GetWarehouses(c.Request.Context())
		if err != nil {
			respondPostingError(c, err)
			return
		}
		c.JSON(http.StatusOK, warehouses)
	}
}

func createWarehouseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewWarehouse
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": err.Error()})
			return
		}
		warehouse, err := models.CreateWarehouse(c.Request.Context(), &input)
		if err != nil {
			respondPostingError(c, err)
			return
		}
		c.JSON(http.StatusCreated, warehouse)
	}
}
