// Пакет server — HTTP-мост медиа-хранилища с graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gopi202005/cloud-vault-web/internal/api/middleware"
)

// Mounter регистрирует маршруты API в роутере.
type Mounter interface {
	Mount(r chi.Router)
}

// Options — параметры HTTP-сервера.
type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Server — HTTP-сервер моста.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(opts Options, logger *slog.Logger, api Mounter) *Server {
	router := chi.NewRouter()

	// Middleware
	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	router.Handle("/metrics", promhttp.Handler())
	api.Mount(router)

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}

	return &Server{
		httpServer:      srv,
		shutdownTimeout: shutdownTimeout,
		logger:          logger.With(slog.String("component", "server")),
	}
}

// Handler возвращает корневой обработчик (для тестов через httptest).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run запускает сервер и блокируется до отмены ctx (сигнал завершения)
// или ошибки прослушивания. При отмене выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Получен сигнал завершения")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...", slog.String("timeout", s.shutdownTimeout.String()))
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
