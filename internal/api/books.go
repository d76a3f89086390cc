package api

import (
	"net/http"

	"bookstore/m/domain"
	"bookstore/m/internal/library"
)

func (h *Handler) listBooks(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	books, err := h.svc.Catalog.List(r.Context(), page)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, books)
}

func (h *Handler) getBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	b, err := h.svc.Catalog.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

type createBookRequest struct {
	Title             string `json:"title" validate:"required,max=255"`
	Author            string `json:"author" validate:"max=255"`
	Quantity          *int64 `json:"quantity" validate:"omitempty,gte=0"`
	AvailableQuantity *int64 `json:"available_quantity" validate:"omitempty,gte=0"`
}

func (h *Handler) createBook(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleLibrarian) {
		return
	}
	var req createBookRequest
	if !h.bind(w, r, &req) {
		return
	}

	b, err := h.svc.Catalog.Create(r.Context(), library.NewBook{
		Title:             req.Title,
		Author:            req.Author,
		Quantity:          req.Quantity,
		AvailableQuantity: req.AvailableQuantity,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

type updateBookRequest struct {
	Title    *string `json:"title" validate:"omitempty,max=255"`
	Author   *string `json:"author" validate:"omitempty,max=255"`
	Quantity *int64  `json:"quantity"`
}

func (h *Handler) updateBook(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleLibrarian) {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	var req updateBookRequest
	if !h.bind(w, r, &req) {
		return
	}

	b, err := h.svc.Catalog.Update(r.Context(), id, domain.BookPatch{
		Title:    req.Title,
		Author:   req.Author,
		Quantity: req.Quantity,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (h *Handler) deleteBook(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleLibrarian) {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if err := h.svc.Catalog.Delete(r.Context(), id); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
