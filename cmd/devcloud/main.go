package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MKhiriev/go-vault-sync/internal/devcloud"
	"github.com/MKhiriev/go-vault-sync/internal/logger"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "listen address")
	token := flag.String("token", "", "bearer token required from clients (empty disables auth)")
	flag.Parse()

	log := logger.NewLogger("devcloud")

	handler := devcloud.NewHandler(*token, log)
	srv := &http.Server{
		Addr:    *addr,
		Handler: handler.Init(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", *addr).Msg("devcloud listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("devcloud server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("devcloud shutdown error")
	}
}
