package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/merchkit/storefront/internal/auth"
	"github.com/merchkit/storefront/internal/domain/review"
)

type submitReviewRequest struct {
	ProductID string `json:"productId"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
}

type reviewResponse struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	UserID    string    `json:"userId"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h *Handler) submitReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	var req submitReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "productId is required", "productId")
		return
	}

	rev, err := h.reviews.Submit(r.Context(), req.ProductID, req.Rating, req.Comment, actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReviewResponse(rev))
}

func (h *Handler) deleteReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required", "id")
		return
	}

	if err := h.reviews.Delete(r.Context(), id, actor); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *Handler) listReviews(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("productId")
	if productID == "" {
		writeError(w, http.StatusBadRequest, "productId is required", "productId")
		return
	}

	out := make([]reviewResponse, 0)
	for rev, err := range h.reviews.List(r.Context(), productID) {
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		out = append(out, toReviewResponse(&rev))
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": out})
}

func toReviewResponse(rev *review.Review) reviewResponse {
	return reviewResponse{
		ID:        rev.ID,
		ProductID: rev.ProductID,
		UserID:    rev.UserID,
		Rating:    rev.Rating,
		Comment:   rev.Comment,
		CreatedAt: rev.CreatedAt,
		UpdatedAt: rev.UpdatedAt,
	}
}
