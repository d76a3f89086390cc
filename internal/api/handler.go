package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"bookstore/m/domain"
	"bookstore/m/internal/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type ctxKey string

const (
	ctxUserID    ctxKey = "userID"
	ctxRole      ctxKey = "role"
	ctxRequestID ctxKey = "requestID"

	headerRequestID = "X-Request-ID"
)

// Services groups the library services the API fronts.
type Services struct {
	Directory *library.Directory
	Catalog   *library.Catalog
	Workflow  *library.Workflow
}

// Options carries the HTTP settings taken from configuration.
type Options struct {
	Secret   string
	TokenTTL time.Duration
	// AllowedOrigins lists the CORS origins; empty allows any.
	AllowedOrigins []string
}

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	svc      Services
	secret   string
	tokenTTL time.Duration
	origins  []string
	log      *slog.Logger
	validate *validator.Validate
}

// New constructs a Handler.
func New(svc Services, opts Options, log *slog.Logger) *Handler {
	v := validator.New()
	// report json field names in validation errors
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Handler{
		svc:      svc,
		secret:   opts.Secret,
		tokenTTL: opts.TokenTTL,
		origins:  origins,
		log:      log,
		validate: v,
	}
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", headerRequestID},
		ExposedHeaders: []string{headerRequestID},
		MaxAge:         300,
	}))
	r.Use(middleware.RealIP)
	r.Use(h.requestID)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/register", h.register)
			r.Post("/login", h.login)
			r.Get("/", h.listUsers)
			r.With(h.authMiddleware).Get("/me", h.me)
			r.Get("/{id}", h.getUser)
			r.Patch("/{id}", h.updateUser)
		})

		r.Route("/books", func(r chi.Router) {
			r.Get("/", h.listBooks)
			r.Get("/{id}", h.getBook)
			r.Group(func(staff chi.Router) {
				staff.Use(h.authMiddleware)
				staff.Post("/", h.createBook)
				staff.Patch("/{id}", h.updateBook)
				staff.Delete("/{id}", h.deleteBook)
			})
		})

		r.Route("/borrowings", func(r chi.Router) {
			r.Post("/", h.createBorrowing)
			r.Get("/active", h.listActiveBorrowings)
			r.Get("/user/{user_id}", h.listUserBorrowings)
			r.Get("/book/{book_id}", h.listBookBorrowings)
			r.Get("/{id}", h.getBorrowing)
			r.Put("/{id}/return", h.returnBorrowing)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Middleware

func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxRequestID, id)))
	})
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"req_id", requestIDFrom(r.Context()),
			"ip", r.RemoteAddr,
			"ua", r.UserAgent(),
		)
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestID).(string)
	return id
}

// Authentication helpers

type authClaims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func (h *Handler) generateToken(u *domain.User) (string, error) {
	now := time.Now()
	claims := authClaims{
		UserID: u.ID,
		Role:   string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(h.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.secret))
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenString := strings.TrimSpace(header[len("Bearer "):])
		token, err := jwt.ParseWithClaims(tokenString, &authClaims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(h.secret), nil
		})
		if err != nil || !token.Valid {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		claims, ok := token.Claims.(*authClaims)
		if !ok {
			respondError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID)
		ctx = context.WithValue(ctx, ctxRole, domain.Role(claims.Role))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, allowed ...domain.Role) bool {
	current, ok := r.Context().Value(ctxRole).(domain.Role)
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing role")
		return false
	}
	for _, role := range allowed {
		if current == role {
			return true
		}
	}
	respondError(w, http.StatusForbidden, "insufficient permissions")
	return false
}

// Helpers

// bind decodes and validates the request body, writing the error response
// itself when it returns false.
func (h *Handler) bind(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := decodeJSON(r, dest); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(dest); err != nil {
		respondError(w, http.StatusUnprocessableEntity, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed on %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag())
	}
	return err.Error()
}

// respondServiceError maps coded service errors onto HTTP statuses.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch domain.Code(err) {
	case domain.ErrNotFound:
		status = http.StatusNotFound
	case domain.ErrForbidden:
		status = http.StatusForbidden
	case domain.ErrInvalidInput:
		status = http.StatusUnprocessableEntity
	case domain.ErrInvalidState:
		status = http.StatusBadRequest
	case domain.ErrConflict:
		status = http.StatusConflict
	case domain.ErrUnauthenticated:
		status = http.StatusUnauthorized
	default:
		h.log.Error("request failed",
			"err", err,
			"method", r.Method,
			"path", r.URL.Path,
			"req_id", requestIDFrom(r.Context()),
		)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondError(w, status, err.Error())
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Errorf(domain.ErrInvalidInput, "invalid %s", name)
	}
	return id, nil
}

func parsePage(r *http.Request) (domain.Page, error) {
	page := domain.DefaultPage()
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("skip")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return page, domain.Errorf(domain.ErrInvalidInput, "skip must be an integer")
		}
		page.Skip = n
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return page, domain.Errorf(domain.ErrInvalidInput, "limit must be an integer")
		}
		page.Limit = n
	}
	return page, page.Validate()
}

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
