package main

import (
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/herald/pkg/webhooks"
)

// Config holds the receiver configuration
type Config struct {
	Addr     string
	Secret   string
	LogLevel string
	MaxBody  int64
}

// herald-receiver is a reference webhook consumer: it verifies signatures and
// logs every delivered event. Useful for local end-to-end testing.
func main() {
	config := parseFlags()
	logger := setupLogger(config.LogLevel)

	mux := http.NewServeMux()
	mux.Handle("/", newReceiver(config, logger))

	server := &http.Server{
		Addr:              config.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Infof("Webhook receiver listening on %s (signature check: %t)", config.Addr, config.Secret != "")
	if err := server.ListenAndServe(); err != nil {
		logger.Fatalf("Receiver stopped: %v", err)
	}
}

func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.Addr, "addr", ":8081", "Address to listen on")
	flag.StringVar(&config.Secret, "secret", os.Getenv("HERALD_WEBHOOK_SECRET"), "Shared secret used to verify X-Herald-Signature")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Int64Var(&config.MaxBody, "max-body", 1<<20, "Maximum accepted body size in bytes")

	flag.Parse()

	return config
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func newReceiver(config *Config, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, config.MaxBody))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		entry := logger.WithFields(logrus.Fields{
			"delivery_id": r.Header.Get(webhooks.HeaderDeliveryID),
			"event":       r.Header.Get(webhooks.HeaderEvent),
			"timestamp":   r.Header.Get(webhooks.HeaderTimestamp),
		})

		if config.Secret != "" && !webhooks.VerifySignature(body, r.Header.Get(webhooks.HeaderSignature), config.Secret) {
			entry.Warn("Rejected delivery with invalid signature")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		var payload webhooks.Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			entry.WithError(err).Warn("Rejected malformed payload")
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}

		entry.WithFields(logrus.Fields{
			"user_did": payload.UserDID,
			"data":     payload.Data,
		}).Info("Webhook received")
		w.WriteHeader(http.StatusNoContent)
	}
}
