package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"subrelay/config"
	"subrelay/lib"
	"subrelay/webhook"
)

func NewAPI(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *lib.Service) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, svc)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go srv.ListenAndServe()
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *lib.Service) http.Handler {
	ctrl := &controller{log, svc}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		if creds := cfg.GetCreds(); len(creds) > 0 {
			r.Use(middleware.BasicAuth("subrelay", creds))
		} else {
			log.Sugar().Info("Auth is disabled since no credentials are defined")
		}

		r.Route("/channels/{channel_id}", func(r chi.Router) {
			r.Put("/subscription", ctrl.subscribe)
			r.Delete("/subscription", ctrl.unsubscribe)
			r.Post("/name", ctrl.setDisplayName)
			r.Post("/avatar", ctrl.setAvatar)
		})
	})

	return r
}

type controller struct {
	log *zap.Logger
	svc *lib.Service
}

func (ctrl *controller) reject(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, webhook.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, gorm.ErrRecordNotFound):
		http.Error(w, "no subscription for this channel", http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		ctrl.log.Sugar().Errorw("Request failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	w.Write(b)
}

func (ctrl *controller) subscribe(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channel_id")
	subreddit := r.FormValue("subreddit")

	if subreddit == "" {
		http.Error(w, "subreddit is required", http.StatusBadRequest)
		return
	}

	sub, err := ctrl.svc.Subscribe(r.Context(), channelID, subreddit)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, sub)
}

func (ctrl *controller) unsubscribe(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channel_id")

	if err := ctrl.svc.Unsubscribe(r.Context(), channelID); err != nil {
		ctrl.reject(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"unsubscribed": channelID})
}

func (ctrl *controller) setDisplayName(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channel_id")
	name := r.FormValue("name")

	if name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	sub, err := ctrl.svc.SetDisplayName(r.Context(), channelID, name)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, sub)
}

func (ctrl *controller) setAvatar(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channel_id")
	avatarURL := r.FormValue("url")

	if avatarURL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	sub, err := ctrl.svc.SetAvatar(r.Context(), channelID, avatarURL)
	if err != nil {
		ctrl.reject(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, sub)
}
