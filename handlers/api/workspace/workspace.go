package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"promptcanvas/canvas"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	// Engine is the part of canvas.Workspace the HTTP layer drives.
	Engine interface {
		Snapshot() canvas.Snapshot
		OnPromptEdit(id canvas.SlotID, prompt string) error
		RequestGeneration(id canvas.SlotID, prompt string) (int64, error)
		SelectSlot(id canvas.SlotID) error
		CloneSlot(id canvas.SlotID) (canvas.Slot, error)
		DeleteSlot(ctx context.Context, id canvas.SlotID) error
		MoveSlot(id canvas.SlotID, x, y int) (canvas.Slot, error)
		GenerateVariationsFor(ctx context.Context, id canvas.SlotID) ([]canvas.Slot, error)
		ArrangeGrid() []canvas.Slot
		ClearAll(ctx context.Context) error
		SetViewportWidth(width int)
	}

	PromptRequest struct {
		ID     canvas.SlotID `json:"id"`
		Prompt string        `json:"prompt"`
	}

	SlotRequest struct {
		ID canvas.SlotID `json:"id"`
	}

	MoveRequest struct {
		ID canvas.SlotID `json:"id"`
		X  int           `json:"x"`
		Y  int           `json:"y"`
	}

	ViewportRequest struct {
		Width int `json:"width"`
	}

	GenerateResponse struct {
		RequestTime int64 `json:"requestTime"`
	}
)

func renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// renderEngineError maps canvas sentinels to client errors. Anything else is
// reported as a 500 with msg.
func renderEngineError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, canvas.ErrSlotNotFound):
		renderError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, canvas.ErrEmptyPrompt),
		errors.Is(err, canvas.ErrPlaceholder),
		errors.Is(err, canvas.ErrNoImage):
		renderError(w, r, http.StatusBadRequest, err.Error())
	default:
		logrus.WithField("error", err).Error(msg)
		renderError(w, r, http.StatusInternalServerError, msg)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logrus.WithField("error", err).Warn("Failed to decode request")
		renderError(w, r, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func HandleSnapshot(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, engine.Snapshot())
	}
}

// HandleEdit feeds a keystroke into the debounced generation path.
func HandleEdit(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PromptRequest
		if !decode(w, r, &req) {
			return
		}
		if err := engine.OnPromptEdit(req.ID, req.Prompt); err != nil {
			renderEngineError(w, r, err, "Failed to edit prompt")
			return
		}
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, map[string]bool{"success": true})
	}
}

// HandleGenerate dispatches a generation without waiting for the debounce.
func HandleGenerate(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PromptRequest
		if !decode(w, r, &req) {
			return
		}
		requestTime, err := engine.RequestGeneration(req.ID, req.Prompt)
		if err != nil {
			renderEngineError(w, r, err, "Failed to request generation")
			return
		}
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, GenerateResponse{RequestTime: requestTime})
	}
}

func HandleSelect(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SlotRequest
		if !decode(w, r, &req) {
			return
		}
		if err := engine.SelectSlot(req.ID); err != nil {
			renderEngineError(w, r, err, "Failed to select slot")
			return
		}
		render.JSON(w, r, engine.Snapshot())
	}
}

func HandleClone(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SlotRequest
		if !decode(w, r, &req) {
			return
		}
		slot, err := engine.CloneSlot(req.ID)
		if err != nil {
			renderEngineError(w, r, err, "Failed to clone slot")
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, slot)
	}
}

func HandleMove(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MoveRequest
		if !decode(w, r, &req) {
			return
		}
		slot, err := engine.MoveSlot(req.ID, req.X, req.Y)
		if err != nil {
			renderEngineError(w, r, err, "Failed to move slot")
			return
		}
		render.JSON(w, r, slot)
	}
}

func HandleVariations(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SlotRequest
		if !decode(w, r, &req) {
			return
		}
		slots, err := engine.GenerateVariationsFor(r.Context(), req.ID)
		if err != nil {
			renderEngineError(w, r, err, "Failed to generate variations")
			return
		}
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, slots)
	}
}

func HandleArrange(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, engine.ArrangeGrid())
	}
}

func HandleClear(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := engine.ClearAll(r.Context()); err != nil {
			renderEngineError(w, r, err, "Failed to delete some images")
			return
		}
		render.JSON(w, r, map[string]bool{"success": true})
	}
}

func HandleViewport(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ViewportRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Width <= 0 {
			renderError(w, r, http.StatusBadRequest, "Width must be positive")
			return
		}
		engine.SetViewportWidth(req.Width)
		render.JSON(w, r, map[string]bool{"success": true})
	}
}

func HandleDelete(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := canvas.ParseSlotID(chi.URLParam(r, "id"))
		if err := engine.DeleteSlot(r.Context(), id); err != nil {
			renderEngineError(w, r, err, "Failed to delete slot")
			return
		}
		render.JSON(w, r, map[string]bool{"success": true})
	}
}

// Routes mounts the workspace endpoints.
func Routes(r chi.Router, engine Engine) {
	r.Get("/", HandleSnapshot(engine))
	r.Post("/edit", HandleEdit(engine))
	r.Post("/generate", HandleGenerate(engine))
	r.Post("/select", HandleSelect(engine))
	r.Post("/clone", HandleClone(engine))
	r.Post("/move", HandleMove(engine))
	r.Post("/variations", HandleVariations(engine))
	r.Post("/arrange", HandleArrange(engine))
	r.Post("/clear", HandleClear(engine))
	r.Post("/viewport", HandleViewport(engine))
	r.Delete("/slots/{id}", HandleDelete(engine))
}
