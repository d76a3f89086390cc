package api

import (
	"net/http"
	"strconv"
	"strings"

	"bookstore/m/domain"
	"bookstore/m/internal/library"
)

type createBorrowingRequest struct {
	BookID        int64 `json:"book_id" validate:"required,gt=0"`
	UserID        int64 `json:"user_id" validate:"required,gt=0"`
	CurrentUserID int64 `json:"current_user_id" validate:"required,gt=0"`
}

func (h *Handler) createBorrowing(w http.ResponseWriter, r *http.Request) {
	var req createBorrowingRequest
	if !h.bind(w, r, &req) {
		return
	}

	b, err := h.svc.Workflow.Borrow(r.Context(), library.BorrowRequest{
		BookID:       req.BookID,
		UserID:       req.UserID,
		ActingUserID: req.CurrentUserID,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

func (h *Handler) returnBorrowing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	b, err := h.svc.Workflow.Return(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (h *Handler) getBorrowing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	b, err := h.svc.Workflow.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (h *Handler) listActiveBorrowings(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	list, err := h.svc.Workflow.ListOutstanding(r.Context(), page)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handler) listUserBorrowings(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "user_id")
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	list, err := h.svc.Workflow.ListByUser(r.Context(), userID, page)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// listBookBorrowings lists a book's loans, narrowed to one borrower when the
// user_id query parameter is present.
func (h *Handler) listBookBorrowings(w http.ResponseWriter, r *http.Request) {
	bookID, err := pathID(r, "book_id")
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	var list []domain.Borrowing
	if raw := strings.TrimSpace(r.URL.Query().Get("user_id")); raw != "" {
		userID, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || userID <= 0 {
			respondError(w, http.StatusUnprocessableEntity, "invalid user_id")
			return
		}
		list, err = h.svc.Workflow.ListByPair(r.Context(), bookID, userID, page)
	} else {
		list, err = h.svc.Workflow.ListByBook(r.Context(), bookID, page)
	}
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}
