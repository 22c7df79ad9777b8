package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pazarglobal/assistant/config"
	"github.com/pazarglobal/assistant/internal/chat"
	"github.com/pazarglobal/assistant/internal/index"
	"github.com/pazarglobal/assistant/internal/llm"
	"github.com/pazarglobal/assistant/internal/runtime"
	"github.com/pazarglobal/assistant/internal/session"
	"github.com/pazarglobal/assistant/internal/store"
	"github.com/pazarglobal/assistant/internal/telemetry"
)

// Run wires every dependency and serves the API until the listener fails.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	dsn := cfg.Storage.Postgres.DSN()
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		baseLogger.Printf("migrations: %v", err)
	}

	st, err := store.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("postgres connection failed: %w", err)
	}
	rdb, err := session.Connect(ctx, cfg.Storage.Redis)
	if err != nil {
		return err
	}
	sessions := session.NewStore(rdb, cfg.Session)

	idx, err := index.New()
	if err != nil {
		return err
	}
	if recent, err := st.ListListings(ctx, 500); err != nil {
		baseLogger.Printf("index backfill skipped: %v", err)
	} else if err := idx.Backfill(recent); err != nil {
		baseLogger.Printf("index backfill failed: %v", err)
	}

	var tele *telemetry.Telemetry
	if cfg.Telemetry.Enabled {
		tele = telemetry.New(nil)
	}

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}

	orchLogger := log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	router := chat.NewRouter(provider, orchLogger)
	extractor := chat.NewLLMExtractor(provider)
	composer := chat.NewComposer(st, extractor, cfg.Assistant.ExtractionTimeout, cfg.Assistant.MaxExtractors, orchLogger, tele)
	workflow := chat.NewWorkflow(st, st, st, cfg.Assistant.PublishCost, cfg.Assistant.ConfirmTimeout, orchLogger, tele)
	workflow.OnPublish = func(l store.Listing) {
		if err := idx.Add(l); err != nil {
			orchLogger.Printf("indexing listing %s failed: %v", l.ID, err)
		}
	}
	searcher := chat.NewSearcher([]chat.Strategy{
		chat.NewCategoryStrategy(st),
		chat.NewPriceStrategy(st),
		chat.NewKeywordStrategy(idx, st),
	}, cfg.Assistant.SearchTimeout, orchLogger, tele)

	assistant := chat.NewAssistant(router, composer, workflow, searcher,
		sessions, st, session.NewLocker(), provider, orchLogger, tele, cfg.Session.HistoryLimit)

	secret := []byte(cfg.Server.JWTSecret)
	api := e.Group("/api")

	auth := &AuthHandler{Store: st, Secret: secret, InitialCredits: cfg.Assistant.InitialCredits}
	auth.Register(api.Group("/auth"))

	ch := &ChatHandler{Assistant: assistant, Sessions: sessions}
	ch.Register(api.Group("/chat"))

	wh := &WalletHandler{Store: st}
	wh.Register(api.Group("/wallet"), runtime.EchoAuthMiddleware(secret))

	sweeper := &Sweeper{
		Store:          st,
		Rdb:            rdb,
		Cron:           cfg.Assistant.SweepCron,
		ConfirmTimeout: cfg.Assistant.ConfirmTimeout,
		Logger:         log.New(log.Writer(), "[SWEEP] ", log.LstdFlags),
		Stop:           make(chan struct{}),
	}
	sweeper.Start()
	defer close(sweeper.Stop)

	if addr == "" {
		addr = cfg.Server.Address
	}
	if addr == "" {
		addr = ":8090"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
