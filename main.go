package main

import (
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"subrelay/app"
	"subrelay/config"
	"subrelay/lib"
	"subrelay/lib/relay"
	"subrelay/reddit"
	"subrelay/webhook"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func main() {
	fx.New(
		fx.Provide(NewLogger),
		fx.Provide(config.NewConfig),

		fx.Provide(app.NewDatabase),
		fx.Provide(app.NewTransport),

		fx.Provide(reddit.NewClient),
		fx.Provide(webhook.NewDispatcher),
		fx.Provide(webhook.NewProvisioner),

		fx.Provide(lib.NewRegistry),
		fx.Provide(lib.NewLedger),
		fx.Provide(lib.NewService),
		fx.Provide(relay.NewRelay),

		fx.Provide(app.NewAPI),

		fx.Invoke(func(*relay.Relay, *http.Server) {}),
	).Run()
}
