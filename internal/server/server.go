package server

import (
	"context"
	"encoding/json"
	"io/fs"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lectern/lectern/internal/auth"
	"github.com/lectern/lectern/internal/catalog"
	"github.com/lectern/lectern/internal/database"
	"github.com/lectern/lectern/internal/docs"
	"github.com/lectern/lectern/internal/geoip"
	"github.com/lectern/lectern/internal/httputil"
	"github.com/lectern/lectern/internal/playback"
	"github.com/lectern/lectern/internal/ratelimit"
	"github.com/lectern/lectern/internal/slack"
	"github.com/lectern/lectern/internal/validate"
	"github.com/lectern/lectern/internal/webhook"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Storage is the union of what the catalog (uploads) and playback
// (presigned streams) need from the object store.
type Storage interface {
	catalog.ObjectStorage
	playback.ObjectStorage
}

type Config struct {
	DB               database.DBTX
	Pinger           Pinger
	Storage          Storage
	WebFS            fs.FS
	JWTSecret        string
	MediaSecret      string
	BaseURL          string
	MaxUploadBytes   int64
	S3PublicEndpoint string

	EnableDocs bool

	EnrollmentNotifier  catalog.EnrollmentNotifier
	CertificateNotifier catalog.CertificateNotifier
	WebhookClient       *webhook.Client
	GeoResolver         *geoip.Resolver
}

type Server struct {
	router          chi.Router
	pinger          Pinger
	authHandler     *auth.Handler
	catalogHandler  *catalog.Handler
	playbackHandler *playback.Handler
	webFS           fs.FS
	enableDocs      bool
}

func New(cfg Config) *Server {
	r := chi.NewRouter()
	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders(SecurityConfig{
		BaseURL:         cfg.BaseURL,
		StorageEndpoint: cfg.S3PublicEndpoint,
	}))

	s := &Server{router: r, pinger: cfg.Pinger, webFS: cfg.WebFS, enableDocs: cfg.EnableDocs}

	if cfg.DB != nil {
		if cfg.JWTSecret == "" {
			log.Fatal("JWT_SECRET is required; set the environment variable")
		}
		if cfg.MediaSecret == "" {
			log.Fatal("MEDIA_SECRET is required; set the environment variable")
		}

		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:8080"
		}

		secureCookies := strings.HasPrefix(baseURL, "https://")
		s.authHandler = auth.NewHandler(cfg.DB, cfg.JWTSecret, secureCookies)

		s.catalogHandler = catalog.NewHandler(cfg.DB, cfg.Storage, baseURL, cfg.MaxUploadBytes)
		if cfg.EnrollmentNotifier != nil {
			s.catalogHandler.SetEnrollmentNotifier(cfg.EnrollmentNotifier)
		}
		if cfg.CertificateNotifier != nil {
			s.catalogHandler.SetCertificateNotifier(cfg.CertificateNotifier)
		}
		if cfg.WebhookClient != nil {
			s.catalogHandler.SetWebhookClient(cfg.WebhookClient)
		}

		s.playbackHandler = playback.NewHandler(cfg.DB, cfg.Storage, baseURL, cfg.MediaSecret)
		if cfg.GeoResolver != nil {
			s.playbackHandler.SetGeoResolver(cfg.GeoResolver)
		}
		s.playbackHandler.SetCompletionSink(s.catalogHandler)
	}

	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/limits", handleLimits)

	if s.enableDocs {
		s.router.Get("/api/docs", docs.HandleDocs)
		s.router.Get("/api/docs/openapi.yaml", docs.HandleSpec)
	}

	if s.authHandler != nil {
		authLimiter := ratelimit.NewLimiter(0.5, 5)
		s.router.Route("/api/auth", func(r chi.Router) {
			r.Use(authLimiter.Middleware)
			r.Post("/register", s.authHandler.Register)
			r.Post("/login", s.authHandler.Login)
			r.Post("/refresh", s.authHandler.Refresh)
			r.Post("/logout", s.authHandler.Logout)
		})
	}

	if s.catalogHandler != nil {
		apiLimiter := ratelimit.NewLimiter(5, 20)

		s.router.Route("/api/courses", func(r chi.Router) {
			r.Use(apiLimiter.Middleware)
			r.Use(s.authHandler.Middleware)
			r.Get("/", s.catalogHandler.ListCourses)
			r.Get("/{id}", s.catalogHandler.GetCourse)
			r.Post("/{id}/enroll", s.catalogHandler.RequestEnrollment)
			r.Get("/{id}/progress", s.catalogHandler.CourseProgress)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Post("/", s.catalogHandler.CreateCourse)
				r.Put("/{id}", s.catalogHandler.UpdateCourse)
				r.Delete("/{id}", s.catalogHandler.DeleteCourse)
				r.Post("/{id}/lectures", s.catalogHandler.CreateLecture)
			})
		})

		s.router.Route("/api/lectures", func(r chi.Router) {
			r.Use(apiLimiter.Middleware)
			r.Use(s.authHandler.Middleware)
			r.Get("/{id}/play", s.playbackHandler.Play)
			r.Post("/{id}/checkpoint", s.playbackHandler.Checkpoint)
			r.Post("/{id}/complete", s.playbackHandler.Complete)
			r.Get("/{id}/progress", s.playbackHandler.Progress)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Put("/{id}", s.catalogHandler.UpdateLecture)
				r.Delete("/{id}", s.catalogHandler.DeleteLecture)
				r.Post("/{id}/confirm", s.catalogHandler.ConfirmUpload)
			})
		})

		s.router.Route("/api/enrollments", func(r chi.Router) {
			r.Use(s.authHandler.Middleware)
			r.Get("/", s.catalogHandler.ListMyEnrollments)
		})

		s.router.Route("/api/admin/enrollments", func(r chi.Router) {
			r.Use(s.authHandler.Middleware)
			r.Use(auth.RequireRole(auth.RoleAdmin))
			r.Get("/", s.catalogHandler.ListPendingEnrollments)
			r.Post("/{id}/approve", s.catalogHandler.ApproveEnrollment)
			r.Post("/{id}/reject", s.catalogHandler.RejectEnrollment)
		})

		s.router.Route("/api/certificates", func(r chi.Router) {
			r.Get("/verify/{serial}", s.catalogHandler.VerifyCertificate)
			r.Group(func(r chi.Router) {
				r.Use(s.authHandler.Middleware)
				r.Get("/", s.catalogHandler.ListMyCertificates)
			})
		})

		s.router.Route("/api/settings/notifications", func(r chi.Router) {
			r.Use(s.authHandler.Middleware)
			r.Get("/", s.catalogHandler.GetNotificationSettings)
			r.Put("/", s.catalogHandler.PutNotificationSettings)
			r.Post("/test-slack", handleSlackTest)
		})

		// Media endpoints authenticate with the short-lived media token,
		// not the bearer token: the stream URL is handed to a <video>
		// element and the watch page opens in a plain browser tab.
		s.router.Get("/api/media/stream/{id}", s.playbackHandler.Stream)
		s.router.Get("/watch/{id}", s.playbackHandler.WatchPage)
	}

	if s.webFS != nil {
		spa := newSPAFileServer(s.webFS)
		s.router.NotFound(spa.ServeHTTP)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func handleLimits(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, validate.FieldLimits())
}

func handleSlackTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SlackWebhookURL string `json:"slackWebhookUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SlackWebhookURL == "" {
		httputil.WriteError(w, http.StatusBadRequest, "slackWebhookUrl is required")
		return
	}
	if msg := validate.SlackWebhookURL(req.SlackWebhookURL); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if err := slack.SendTestMessage(r.Context(), req.SlackWebhookURL); err != nil {
		httputil.WriteError(w, http.StatusBadGateway, "slack webhook rejected the test message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
