package variations

import (
	"encoding/json"
	"net/http"
	"strings"

	"promptcanvas/core"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	VariationsRequest struct {
		Prompt string `json:"prompt"`
	}

	VariationsResponse struct {
		Variations []string `json:"variations"`
	}
)

// HandleVariations returns alternative prompts for the posted prompt.
func HandleVariations(generator core.VariationGenerator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VariationsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Prompt is required"})
			return
		}

		variations, err := generator.Variations(r.Context(), req.Prompt)
		if err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "prompt": req.Prompt}).Error("Error generating variations")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to generate variations"})
			return
		}
		if variations == nil {
			variations = []string{}
		}

		render.JSON(w, r, VariationsResponse{Variations: variations})
	}
}
