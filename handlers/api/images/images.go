package images

import (
	"encoding/json"
	"errors"
	"net/http"

	"promptcanvas/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	CreateImageRequest struct {
		Prompt    string `json:"prompt"`
		ImageURL  string `json:"image_url"`
		PositionX int    `json:"position_x"`
		PositionY int    `json:"position_y"`
	}

	UpdateImageRequest struct {
		Prompt   string `json:"prompt"`
		ImageURL string `json:"image_url"`
	}

	UpdatePositionRequest struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
)

func renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// notFoundOr writes 404 for core.ErrNotFound and status otherwise.
func notFoundOr(w http.ResponseWriter, r *http.Request, err error, status int, msg string) {
	if errors.Is(err, core.ErrNotFound) {
		renderError(w, r, http.StatusNotFound, "Image not found")
		return
	}
	renderError(w, r, status, msg)
}

func HandleList(store core.ImageStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		images, err := store.List(r.Context())
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list images")
			renderError(w, r, http.StatusInternalServerError, "Failed to list images")
			return
		}
		if images == nil {
			images = []*core.Image{}
		}
		render.JSON(w, r, images)
	}
}

func HandleCreate(store core.ImageStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateImageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Warn("Failed to decode request")
			renderError(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Prompt == "" || req.ImageURL == "" {
			renderError(w, r, http.StatusBadRequest, "Prompt and image_url are required")
			return
		}

		img, err := store.Create(r.Context(), req.Prompt, req.ImageURL, req.PositionX, req.PositionY)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to create image")
			renderError(w, r, http.StatusInternalServerError, "Failed to create image")
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, img)
	}
}

func HandleUpdate(store core.ImageStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req UpdateImageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Warn("Failed to decode request")
			renderError(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}

		img, err := store.Update(r.Context(), id, req.Prompt, req.ImageURL)
		if err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "image_id": id}).Error("Failed to update image")
			notFoundOr(w, r, err, http.StatusInternalServerError, "Failed to update image")
			return
		}
		render.JSON(w, r, img)
	}
}

func HandleUpdatePosition(store core.ImageStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req UpdatePositionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Warn("Failed to decode request")
			renderError(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}

		if err := store.UpdatePosition(r.Context(), id, req.X, req.Y); err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "image_id": id}).Error("Failed to update image position")
			notFoundOr(w, r, err, http.StatusInternalServerError, "Failed to update image position")
			return
		}
		render.JSON(w, r, map[string]bool{"success": true})
	}
}

func HandleDelete(store core.ImageStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := store.Delete(r.Context(), id); err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "image_id": id}).Error("Failed to delete image")
			notFoundOr(w, r, err, http.StatusInternalServerError, "Failed to delete image")
			return
		}
		render.JSON(w, r, map[string]bool{"success": true})
	}
}

// Routes mounts the image endpoints.
func Routes(r chi.Router, store core.ImageStore) {
	r.Get("/", HandleList(store))
	r.Post("/", HandleCreate(store))
	r.Route("/{id}", func(r chi.Router) {
		r.Put("/", HandleUpdate(store))
		r.Delete("/", HandleDelete(store))
		r.Put("/position", HandleUpdatePosition(store))
	})
}
