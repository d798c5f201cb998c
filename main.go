// Command blive-ingest connects to a live-broadcast danmaku room and
// streams its normalized events. It:
//   - Loads configuration and initializes structured logging.
//   - Builds the platform client (web or open_live) and starts the
//     reconnecting connection loop.
//   - Consumes the event stream and logs each event.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/blive-ingest/blive"
	"github.com/onnwee/blive-ingest/config"
	"github.com/onnwee/blive-ingest/event"
	"github.com/onnwee/blive-ingest/server"
	"github.com/onnwee/blive-ingest/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("blive-ingest", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	var client *blive.Client
	switch cfg.Platform {
	case "open_live":
		if err := cfg.ValidateOpenLiveReady(); err != nil {
			slog.Error("open-live config incomplete", slog.Any("err", err))
			os.Exit(1)
		}
		client = blive.NewOpenLiveClient(blive.OpenLiveOptions{
			AccessKey:         cfg.OpenLiveAccessKey,
			AccessSecret:      cfg.OpenLiveAccessSecret,
			AppID:             cfg.OpenLiveAppID,
			Code:              cfg.OpenLiveCode,
			HeartbeatInterval: cfg.HeartbeatInterval,
		})
	case "web":
		if err := cfg.ValidateWebReady(); err != nil {
			slog.Error("web config incomplete", slog.Any("err", err))
			os.Exit(1)
		}
		client = blive.NewWebClient(blive.WebOptions{
			RoomID:            cfg.RoomID,
			Cookie:            cfg.Cookie,
			HeartbeatInterval: cfg.HeartbeatInterval,
		})
	default:
		slog.Error("unknown PLATFORM", slog.String("platform", cfg.Platform))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client.Start()
	slog.Info("client started", slog.String("platform", cfg.Platform), slog.Int64("room", client.Room()))

	// Consumer: log every event. Replace this loop to fan events into a
	// sink of your choosing.
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for ev := range client.Events() {
			logEvent(ev)
		}
	}()

	// HTTP server (blocking)
	go func() {
		if err := server.Start(ctx, client, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.StopAndClose(stopCtx); err != nil {
		slog.Error("client shutdown timed out", slog.Any("err", err))
	}
	<-consumerDone
	slog.Info("shutdown complete")
}

func logEvent(ev *event.Event) {
	log := slog.Default().With(
		slog.String("type", string(ev.Type)),
		slog.Int64("room", ev.RoomID),
		slog.String("user", ev.UserName),
	)
	switch ev.Type {
	case event.TypeDanmaku:
		log.Info("danmaku", slog.String("content", ev.Danmaku.Content))
	case event.TypeGift:
		log.Info("gift", slog.String("gift", ev.Gift.GiftName), slog.Int("num", ev.Gift.GiftNum))
	case event.TypeSuperChat:
		log.Info("super chat", slog.String("message", ev.SuperChat.Message), slog.Int64("price", ev.SuperChat.Price))
	case event.TypeGuardBuy:
		log.Info("guard purchase", slog.Int("level", ev.GuardBuy.GuardLevel))
	case event.TypeLike:
		log.Info("like")
	case event.TypeEnterRoom:
		log.Info("enter room")
	default:
		log.Info("event")
	}
}
