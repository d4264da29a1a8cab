// Package api exposes the try-on orchestrator over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/raushankrgupta/tryon-orchestrator/models"
	"github.com/raushankrgupta/tryon-orchestrator/tryon"
	"github.com/raushankrgupta/tryon-orchestrator/utils"
	"github.com/sirupsen/logrus"
)

// TryOns is the orchestrator surface the handlers call.
type TryOns interface {
	Start(ctx context.Context, req models.TryOnRequest) (*tryon.Handle, error)
	Task(id string) (models.TryOnTask, bool)
	Cancel(id string) error
}

type Balances interface {
	Balance(ctx context.Context, userID string) (int64, error)
}

type Gallery interface {
	List(ctx context.Context, userID string, page, limit int) ([]models.PreviewItem, int64, error)
}

type Users interface {
	FindByEmail(ctx context.Context, email string) (models.User, error)
}

// Handler holds the dependencies of every endpoint.
type Handler struct {
	tryOns    TryOns
	balances  Balances
	gallery   Gallery
	users     Users
	pricing   tryon.Pricing
	jwtSecret string
	logger    logrus.FieldLogger
}

type Deps struct {
	TryOns    TryOns
	Balances  Balances
	Gallery   Gallery
	Users     Users
	Pricing   tryon.Pricing
	JWTSecret string
	Logger    logrus.FieldLogger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		tryOns:    d.TryOns,
		balances:  d.Balances,
		gallery:   d.Gallery,
		users:     d.Users,
		pricing:   d.Pricing,
		jwtSecret: d.JWTSecret,
		logger:    d.Logger,
	}
}

// Register mounts all routes on mux. Everything except login and health requires a token.
func (h *Handler) Register(mux *http.ServeMux) {
	auth := func(fn http.HandlerFunc) http.Handler {
		return AuthMiddleware(h.jwtSecret, fn)
	}

	mux.HandleFunc("GET /health", h.HealthHandler)
	mux.HandleFunc("POST /auth/login", h.LoginHandler)
	mux.Handle("POST /try-on", auth(h.StartTryOnHandler))
	mux.Handle("GET /try-on/status", auth(h.TryOnStatusHandler))
	mux.Handle("POST /try-on/cancel", auth(h.CancelTryOnHandler))
	mux.Handle("GET /balance", auth(h.BalanceHandler))
	mux.Handle("GET /gallery", auth(h.GalleryHandler))
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
