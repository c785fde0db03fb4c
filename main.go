package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/calebmc/geosnap/classify"
	"github.com/calebmc/geosnap/config"
	"github.com/calebmc/geosnap/database"
	"github.com/calebmc/geosnap/dedupe"
	"github.com/calebmc/geosnap/dupeserver"
	"github.com/calebmc/geosnap/gallery"
	"github.com/calebmc/geosnap/handlers"
	"github.com/calebmc/geosnap/media"
	"github.com/calebmc/geosnap/workers"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Info: No .env file found or error loading: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	storagePaths := []string{cfg.PreviewsPath, cfg.CloudPath, filepath.Dir(cfg.DatabasePath)}
	for _, p := range storagePaths {
		log.Printf("Ensuring storage directory exists: %s", p)
		if err := os.MkdirAll(p, 0755); err != nil {
			log.Fatalf("FATAL: Failed to create storage directory %s: %v", p, err)
		}
	}

	mediaSubDirs := map[media.AssetType]string{
		media.AssetTypePreview: cfg.PreviewsSubDir,
		media.AssetTypeCloud:   cfg.CloudSubDir,
	}
	mediaStore, err := media.NewLocalStorage(cfg.MediaStoragePath, mediaSubDirs)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize media store: %v", err)
	}
	mediaProcessor := media.NewProcessor(mediaStore)

	backendClient := &http.Client{Timeout: cfg.BackendTimeout}

	// an empty base URL selects the embedded reference backend
	if cfg.BackendBaseURL == "" {
		if !cfg.EmbeddedBackend {
			log.Fatalf("FATAL: BACKEND_BASE_URL is not set and the embedded backend is disabled")
		}
		cfg.BackendBaseURL = fmt.Sprintf("http://127.0.0.1:%s/backend", port)
	}
	log.Printf("Using dedupe backend at %s", cfg.BackendBaseURL)

	var classifier classify.Classifier
	switch cfg.ClassifierMode {
	case classify.ModeLocal:
		// a model that fails to load aborts startup; predictions are never
		// silently substituted
		localClassifier, err := classify.NewLocalClassifier(cfg.ModelConfigPath, cfg.ModelWeightsPath, cfg.ModelLabelsPath, cfg.TopPredictions)
		if err != nil {
			log.Fatalf("FATAL: Failed to load local classification model: %v", err)
		}
		defer localClassifier.Close()
		classifier = localClassifier
	case classify.ModeDemo:
		log.Printf("WARNING: demo classifier active; predictions are fabricated")
		classifier = classify.NewDemoClassifier(time.Now().UnixNano(), cfg.TopPredictions)
	default:
		classifier = classify.NewRemoteClassifier(cfg.BackendBaseURL, cfg.ModelType, cfg.TopPredictions, backendClient)
	}
	log.Printf("Classifier mode: %s", cfg.ClassifierMode)

	store := gallery.NewStore(func(previewPath string) {
		if err := mediaStore.Delete(previewPath); err != nil {
			log.Printf("Warning: failed to release preview %s: %v", previewPath, err)
		}
	})

	r := chi.NewRouter()

	corsOptions := cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"}, //TODO: configurable
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	corsHandler := cors.New(corsOptions)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler.Handler)

	if cfg.EmbeddedBackend {
		db, err := database.InitDB(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize database: %v", err)
		}
		if err := database.AutoMigrateModels(db); err != nil {
			log.Fatalf("FATAL: Failed to migrate database: %v", err)
		}
		repo := database.NewRepository(db)

		log.Printf("Initializing thumbnail worker pool (Workers: %d, Queue Size: %d)...", cfg.NumThumbnailWorkers, cfg.ThumbnailQueueSize)
		thumbGen := workers.NewThumbnailProcessor(repo, mediaStore, mediaProcessor, cfg.ThumbnailMaxSize, cfg.ThumbnailQueueSize, cfg.NumThumbnailWorkers)
		defer thumbGen.Stop()

		backendClassifier := classify.NewDemoClassifier(time.Now().UnixNano(), cfg.TopPredictions)
		backend := dupeserver.NewServer(repo, mediaStore, thumbGen, backendClassifier, cfg.ProximityThresholdMeters)
		r.Mount("/backend", backend.Routes())
		log.Printf("Embedded dedupe backend mounted at /backend (threshold: %.2fm)", cfg.ProximityThresholdMeters)
		log.Printf("Embedded backend serves /classify-image with the stand-in model; set BACKEND_BASE_URL for real inference")
	}

	galleryHandler := &handlers.GalleryHandler{
		Store:          store,
		Classifier:     classifier,
		Dedupe:         dedupe.NewClient(cfg.BackendBaseURL, backendClient),
		MediaProcessor: mediaProcessor,
		Cfg:            cfg,
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/gallery", func(r chi.Router) {
			r.Post("/", galleryHandler.UploadBatch)
			r.Get("/", galleryHandler.ListGallery)
			r.Delete("/", galleryHandler.ClearGallery)
			r.Post("/save-all", galleryHandler.SaveAll)
			r.Route("/pairs", func(r chi.Router) {
				r.Get("/", galleryHandler.ListPairs)
				r.Post("/{pair_id}/resolve", galleryHandler.ResolvePair)
			})
			r.Route("/{image_id}", func(r chi.Router) {
				r.Delete("/", galleryHandler.RemoveRecord)
				r.Post("/save", galleryHandler.SaveRecord)
			})
		})

		r.Get("/cloud", galleryHandler.CloudStorage)
		r.Get("/status", galleryHandler.Status)

		r.Get(fmt.Sprintf("/%s/*", cfg.PreviewsSubDir), handlers.AssetServer(cfg.MediaStoragePath, cfg.PreviewsSubDir))
		log.Printf("Registered preview server at /api/%s/*", cfg.PreviewsSubDir)

		r.Get(fmt.Sprintf("/%s/*", cfg.CloudSubDir), handlers.AssetServer(cfg.MediaStoragePath, cfg.CloudSubDir))
		log.Printf("Registered cloud asset server at /api/%s/*", cfg.CloudSubDir)
	})

	serverAddr := ":" + port
	fmt.Printf("Server starting on http://localhost:%s\n", port)
	log.Printf("Server listening on %s", serverAddr)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	log.Fatal(server.ListenAndServe())
}
