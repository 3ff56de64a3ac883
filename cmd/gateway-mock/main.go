// Command gateway-mock serves a local stand-in for the SahelPay Gateway API.
// Operations settle after a configurable number of status queries and every
// status change is reported to the configured webhook URL, signed.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"sahelpay-go/internal/config"
)

func main() {
	cfg, err := LoadConfig(config.GetEnv("GATEWAY_MOCK_CONFIG", "cmd/gateway-mock/config.yaml"))
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	a := &api{
		cfg:    cfg,
		store:  newStore(),
		sender: NewSender(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.WebhookTimeout, logger),
		logger: logger,
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("Gateway mock listening", "port", cfg.Server.Port, "webhookUrl", cfg.Webhook.URL)
	log.Fatal(srv.ListenAndServe())
}
