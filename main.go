package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"manual-hand/config"
	"manual-hand/index"
	"manual-hand/models"
	"manual-hand/providers/claude"
	"manual-hand/providers/landingai"
	"manual-hand/services"
	"manual-hand/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// maxUploadBytes begrenzt die Größe einer hochgeladenen PDF-Datei.
const maxUploadBytes = 100 << 20

// janitorStallMinutes: ab diesem Alter gilt ein Zwischenzustand als hängend.
const janitorStallMinutes = 60

var (
	documentsUploadedCounter prometheus.Counter
	documentsReadyCounter    prometheus.Counter
	documentsFailedCounter   prometheus.Counter
	searchesCounter          prometheus.Counter
	feedbackCounter          prometheus.Counter
)

func init() {
	documentsUploadedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "documents_uploaded_total",
		Help: "Total number of documents uploaded.",
	})
	documentsReadyCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "documents_ready_total",
		Help: "Total number of documents processed to READY.",
	})
	documentsFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "documents_failed_total",
		Help: "Total number of documents that failed processing.",
	})
	searchesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "searches_total",
		Help: "Total number of search requests.",
	})
	feedbackCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedback_votes_total",
		Help: "Total number of accepted feedback votes.",
	})
	prometheus.MustRegister(documentsUploadedCounter, documentsReadyCounter,
		documentsFailedCounter, searchesCounter, feedbackCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to metadata database.")

	logging.Info("Running database auto-migration...")
	if err := db.AutoMigrate(&models.Document{}, &models.FeedbackVote{}); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	// Setup Elasticsearch
	esClient, err := index.NewClient(cfg)
	if err != nil {
		logging.Fatal("Elasticsearch client creation failed", zap.Error(err))
	}
	engine := index.NewEngine(esClient, cfg, logging)
	if err := engine.EnsureIndex(context.Background()); err != nil {
		logging.Fatal("Failed to ensure search index", zap.Error(err))
	}

	// Setup File Store
	s3Client, err := storage.NewS3Client(cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}
	files := storage.NewFileStore(s3Client, cfg)
	store := storage.NewMetadataStore(db)

	// Setup Providers
	parser := landingai.NewFetcher(cfg, logging)
	summarizer := claude.NewFetcher(cfg, logging)
	logging.Info("Active providers loaded",
		zap.String("parser", parser.Name()), zap.String("summarizer", summarizer.Name()))

	// Setup Services
	pipeline := services.NewPipeline(cfg, store, files, engine, parser, summarizer, logging)
	feedback := services.NewFeedbackService(store, time.Duration(cfg.BoostCacheTTLSeconds)*time.Second, logging)
	search := services.NewSearchService(engine, feedback, logging)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.MaxMultipartMemory = 16 << 20

	// Setup Routes
	setupDocumentRoutes(router, cfg, store, files, engine, pipeline, logging)
	setupSearchRoutes(router, search, logging)
	setupFeedbackRoutes(router, feedback, logging)

	// Setup Cron: hängengebliebene Dokumente nach Neustarts auf FAILED setzen.
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.JanitorSchedule, func() {
		ctx := context.Background()
		stuck, err := store.StuckDocuments(ctx, janitorStallMinutes)
		if err != nil {
			logging.Error("Janitor query failed", zap.Error(err))
			return
		}
		for _, doc := range stuck {
			logging.Warn("Janitor: marking stalled document as failed",
				zap.String("document_id", doc.ID), zap.String("status", string(doc.Status)))
			err := store.UpdateStatus(ctx, doc.ID, models.StatusFailed, map[string]interface{}{
				"error_message": fmt.Sprintf("processing stalled in %s for over %d minutes", doc.Status, janitorStallMinutes),
			})
			if err != nil {
				logging.Error("Janitor update failed", zap.String("document_id", doc.ID), zap.Error(err))
				continue
			}
			documentsFailedCounter.Inc()
		}
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// runPipeline startet die Verarbeitung im Hintergrund und pflegt die Zähler.
func runPipeline(pipeline *services.Pipeline, documentID string, log *zap.Logger) {
	go func() {
		if err := pipeline.Run(context.Background(), documentID); err != nil {
			if !errors.Is(err, services.ErrPipelineBusy) {
				documentsFailedCounter.Inc()
			}
			log.Error("Pipeline run failed", zap.String("document_id", documentID), zap.Error(err))
			return
		}
		documentsReadyCounter.Inc()
	}()
}

func setupDocumentRoutes(router *gin.Engine, cfg *config.Config, store *storage.MetadataStore,
	files *storage.FileStore, engine *index.Engine, pipeline *services.Pipeline, log *zap.Logger) {
	rg := router.Group("/documents")

	// Upload nimmt die Datei an und stößt die Pipeline asynchron an.
	rg.POST("/upload", func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing file upload"})
			return
		}
		if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".pdf") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "only PDF files are supported"})
			return
		}
		if fileHeader.Size > maxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}

		category, err := models.ParseCategory(c.PostForm("category"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		src, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded file"})
			return
		}
		defer src.Close()
		data := make([]byte, fileHeader.Size)
		if _, err := io.ReadFull(src, data); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded file"})
			return
		}

		doc := &models.Document{
			ID:           uuid.NewString(),
			Filename:     filepath.Base(fileHeader.Filename),
			Category:     category,
			MachineModel: c.PostForm("machine_model"),
			Status:       models.StatusUploaded,
			FileKey:      "manuals/" + time.Now().UTC().Format("2006/01/02") + "/" + uuid.NewString() + ".pdf",
			FileSize:     fileHeader.Size,
		}

		if err := files.Save(c.Request.Context(), doc.FileKey, data); err != nil {
			log.Error("File store upload failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
			return
		}
		if err := store.CreateDocument(c.Request.Context(), doc); err != nil {
			log.Error("DB error creating document", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		documentsUploadedCounter.Inc()
		runPipeline(pipeline, doc.ID, log)

		c.JSON(http.StatusAccepted, doc)
	})

	// Liste mit optionalen Filtern und Paginierung.
	rg.GET("/", func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
		if page < 1 {
			page = 1
		}
		if pageSize < 1 || pageSize > models.MaxPageSize {
			pageSize = 20
		}

		docs, total, err := store.ListDocuments(c.Request.Context(),
			c.Query("category"), c.Query("status"), page, pageSize)
		if err != nil {
			log.Error("Database query for documents failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"documents": docs,
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		})
	})

	// Status eines einzelnen Dokuments, inklusive Kürzungshinweis.
	rg.GET("/:id", func(c *gin.Context) {
		doc, err := store.GetDocument(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, models.ErrDocumentNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
				return
			}
			log.Error("DB error fetching document", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"document": doc,
			"message":  doc.StatusMessage(cfg.MaxPages),
		})
	})

	// Delete entfernt Metadaten zuerst: ein laufender Pipeline-Lauf sieht
	// das Dokument dann nicht mehr und bricht ab, ohne es wiederzubeleben.
	rg.DELETE("/:id", func(c *gin.Context) {
		id := c.Param("id")
		doc, err := store.GetDocument(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, models.ErrDocumentNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
				return
			}
			log.Error("DB error fetching document for delete", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		if err := store.DeleteDocument(c.Request.Context(), id); err != nil {
			log.Error("DB error deleting document", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if _, err := engine.DeleteDocument(c.Request.Context(), id); err != nil {
			log.Warn("Failed to delete indexed pages", zap.String("document_id", id), zap.Error(err))
		}
		if err := files.Delete(c.Request.Context(), doc.FileKey); err != nil {
			log.Warn("Failed to delete stored file", zap.String("document_id", id), zap.Error(err))
		}

		c.JSON(http.StatusOK, gin.H{"deleted": id})
	})

	// Reprocess setzt ein fertiges oder fehlgeschlagenes Dokument zurück
	// und lässt die Pipeline neu laufen.
	rg.POST("/:id/reprocess", func(c *gin.Context) {
		id := c.Param("id")
		if err := store.ResetDocument(c.Request.Context(), id); err != nil {
			switch {
			case errors.Is(err, models.ErrDocumentNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			case errors.Is(err, models.ErrInvalidTransition):
				c.JSON(http.StatusConflict, gin.H{"error": "document is still processing"})
			default:
				log.Error("DB error resetting document", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			}
			return
		}
		if _, err := engine.DeleteDocument(c.Request.Context(), id); err != nil {
			log.Warn("Failed to clear old index entries before reprocess",
				zap.String("document_id", id), zap.Error(err))
		}

		runPipeline(pipeline, id, log)
		c.JSON(http.StatusAccepted, gin.H{"document_id": id, "status": models.StatusUploaded})
	})
}

func setupSearchRoutes(router *gin.Engine, search *services.SearchService, log *zap.Logger) {
	router.POST("/search", func(c *gin.Context) {
		var req models.SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		resp, err := search.Search(c.Request.Context(), &req)
		if err != nil {
			log.Error("Search failed", zap.String("query", req.Query), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
			return
		}

		searchesCounter.Inc()
		c.JSON(http.StatusOK, resp)
	})
}

func setupFeedbackRoutes(router *gin.Engine, feedback *services.FeedbackService, log *zap.Logger) {
	rg := router.Group("/feedback")

	rg.POST("/", func(c *gin.Context) {
		var req models.FeedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		vote, err := feedback.Submit(c.Request.Context(), &req)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrDocumentNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			case errors.Is(err, services.ErrDuplicateFeedback):
				// Wiederholte Abgabe derselben Session ist nach außen ein
				// No-op: kein neuer Datensatz, keine Cache-Invalidierung,
				// aber eine Erfolgsantwort.
				c.JSON(http.StatusOK, gin.H{
					"document_id": req.DocumentID,
					"page":        req.Page,
					"status":      "already_recorded",
				})
			default:
				log.Error("Feedback submit failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store feedback"})
			}
			return
		}

		feedbackCounter.Inc()
		c.JSON(http.StatusCreated, vote)
	})

	rg.GET("/stats/:document_id/:page", func(c *gin.Context) {
		documentID := c.Param("document_id")
		page, err := strconv.Atoi(c.Param("page"))
		if documentID == "" || err != nil || page < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "document_id and page are required"})
			return
		}

		stats, err := feedback.Stats(c.Request.Context(), documentID, page)
		if err != nil {
			log.Error("Feedback stats query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, stats)
	})
}
