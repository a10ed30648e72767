package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"promptcanvas/canvas"
	"promptcanvas/core"
	"promptcanvas/generators/fal"
	"promptcanvas/generators/openai"
	"promptcanvas/handlers/api/images"
	"promptcanvas/handlers/api/variations"
	"promptcanvas/handlers/api/workspace"
	"promptcanvas/handlers/websocket"
	"promptcanvas/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// loadConfig builds the workspace config from VIEWPORT_WIDTH, DEBOUNCE_MS,
// VARIATION_LAYOUT and ROLLBACK_FAILED_MOVES. Invalid values keep the default.
func loadConfig() canvas.Config {
	cfg := canvas.DefaultConfig()

	if v := os.Getenv("VIEWPORT_WIDTH"); v != "" {
		if width, err := strconv.Atoi(v); err == nil && width > 0 {
			cfg.Layout.ViewportWidth = width
		} else {
			logrus.WithField("value", v).Warn("Ignoring invalid VIEWPORT_WIDTH")
		}
	}
	if v := os.Getenv("DEBOUNCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Debounce = time.Duration(ms) * time.Millisecond
		} else {
			logrus.WithField("value", v).Warn("Ignoring invalid DEBOUNCE_MS")
		}
	}
	if v := os.Getenv("VARIATION_LAYOUT"); v != "" {
		if layout, err := canvas.ParseVariationLayout(v); err == nil {
			cfg.Layout.Variation = layout
		} else {
			logrus.WithField("value", v).Warn("Ignoring invalid VARIATION_LAYOUT")
		}
	}
	if v := os.Getenv("ROLLBACK_FAILED_MOVES"); v != "" {
		if rollback, err := strconv.ParseBool(v); err == nil {
			cfg.RollbackFailedMoves = rollback
		} else {
			logrus.WithField("value", v).Warn("Ignoring invalid ROLLBACK_FAILED_MOVES")
		}
	}
	return cfg
}

func isLocalOrigin(r *http.Request, origin string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch parsed.Scheme {
	case "http", "https":
		switch parsed.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
	}
	return false
}

func setupRouter(store core.ImageStore, variationGenerator core.VariationGenerator, ws *canvas.Workspace) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  isLocalOrigin,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/images", func(r chi.Router) {
			images.Routes(r, store)
		})
		r.Post("/variations", variations.HandleVariations(variationGenerator))
		r.Route("/workspace", func(r chi.Router) {
			workspace.Routes(r, ws)
		})
	})

	return r
}

func waitForShutdown(server *http.Server, ioo *socketio.Server, ws *canvas.Workspace, store core.ImageStore) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-signalC

	logrus.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithField("error", err).Warn("HTTP server did not shut down cleanly")
	}
	ioo.Close(nil)
	ws.Close()
	if closer, ok := store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logrus.WithField("error", err).Warn("Failed to close store")
		}
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	store := stores.GetStore()
	imageGenerator := fal.NewClientFromEnv()
	variationGenerator := openai.NewClientFromEnv()

	cfg := loadConfig()
	ws := canvas.New(cfg, store, imageGenerator, variationGenerator)
	if err := ws.Load(context.Background()); err != nil {
		logrus.WithField("error", err).Error("Failed to load images, starting with an empty canvas")
	}

	r := setupRouter(store, variationGenerator, ws)
	ioo := websocket.SetupSocketIO(ws)
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	server := &http.Server{Addr: *listenAddress, Handler: r}
	logrus.WithFields(logrus.Fields{
		"addr":     *listenAddress,
		"viewport": cfg.Layout.ViewportWidth,
		"debounce": cfg.Debounce,
	}).Info("starting server")
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(server, ioo, ws, store)
}
