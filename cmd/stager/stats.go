package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ttd2089/ring-staging-poc/internal/stage"
)

type statsSource interface {
	Stats() stage.Stats
}

func newStatsServer(addr string, stats statsSource, log *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:    addr,
		Handler: newStatsHandler(stats),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen and serve", zap.Error(err))
		}
	}()

	return srv
}

func newStatsHandler(stats statsSource) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		serveJSON(stats.Stats(), w)
	})
	return mux
}

func serveJSON(data stage.Stats, w http.ResponseWriter) {
	body, err := json.MarshalIndent(data, "", "   ")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
