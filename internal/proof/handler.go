package proof

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"medical-records-access/internal/middleware"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, c *Chain) {
	r.Route("/proof", func(pr chi.Router) {
		pr.Get("/verify", verifyHandler(c))
		pr.Get("/entities/{entityID}", entityBlocksHandler(c))
	})
}

type verifyResponse struct {
	Valid  bool   `json:"valid"`
	Height int    `json:"height"`
	Error  string `json:"error,omitempty"`
}

// verifyHandler godoc
// @Summary Verificar la cadena de pruebas de acceso
// @Tags proof
// @Produce json
// @Success 200 {object} verifyResponse
// @Failure 409 {object} verifyResponse
// @Router /proof/verify [get]
func verifyHandler(c *Chain) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.GetClaims(r.Context()); !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		h, err := c.Verify()
		if err != nil {
			if errors.Is(err, ErrBrokenChain) {
				writeJSON(w, http.StatusConflict, verifyResponse{Valid: false, Error: err.Error()})
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, verifyResponse{Valid: true, Height: h})
	}
}

func entityBlocksHandler(c *Chain) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		blocks, err := c.ByEntity(chi.URLParam(r, "entityID"))
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		// solo las partes del request/grant ven su historial
		if len(blocks) > 0 {
			e := blocks[0].Entry
			if e.DoctorID != claims.UserID && e.PatientID != claims.UserID {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}
		writeJSON(w, http.StatusOK, blocks)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
