// The kiosk agent runs next to the bin's touch screen. It polls the backend,
// drives the sorting workflow, and exposes a tiny local API the screen UI
// calls for its two buttons.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartbin/internal/kiosk"
	"smartbin/pkg/config"
)

func main() {
	cfg := config.LoadKiosk()

	machine := kiosk.NewMachine(
		kiosk.NewServerClient(cfg.ServerURL),
		kiosk.NewControllerClient(cfg.ControllerURL),
		kiosk.Options{},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go machine.Run(ctx, cfg.PollInterval)
	go logTransitions(ctx, machine, cfg.PollInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"state":   machine.State(),
			"message": machine.Message(),
			"result":  machine.Result(),
			"levels":  machine.Levels(),
		})
	})
	mux.HandleFunc("/sort", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := machine.StartSort(r.Context()); err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, kiosk.ErrBusy) {
				status = http.StatusConflict
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := machine.ConfirmEmpty(r.Context()); err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, kiosk.ErrNotFull) {
				status = http.StatusConflict
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              ":" + getEnv("KIOSK_PORT", "8085"),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[kiosk] polling %s every %s, listening on %s", cfg.ServerURL, cfg.PollInterval, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("[kiosk] server error: %v", err)
	}
}

// logTransitions mirrors the screen state to the log so an operator can
// follow the workflow over ssh.
func logTransitions(ctx context.Context, m *kiosk.Machine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := m.State()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if st := m.State(); st != last {
				log.Printf("[kiosk] %s -> %s (%s) levels=%v", last, st, m.Message(), m.Levels())
				last = st
			}
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
