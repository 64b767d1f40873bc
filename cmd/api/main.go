package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campusmarket/internal/config"
	"campusmarket/internal/db"
	internalhttp "campusmarket/internal/http"
	"campusmarket/internal/logging"
	"campusmarket/internal/media"
	"campusmarket/internal/notify"
	"campusmarket/internal/payments"
	"campusmarket/internal/push"
	"campusmarket/internal/services"
	"campusmarket/internal/store"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger := logging.New(cfg.Server.Env)
	defer logger.Sync()

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	st := store.New(pool)
	hub := push.NewHub(logger.Named("push"))

	notifier := &notify.Service{Push: hub, Log: logger.Named("notify")}
	if cfg.Mongo.URI != "" {
		client, err := notify.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			logger.Fatal("mongo connect failed", zap.Error(err))
		}
		defer client.Disconnect(context.Background())

		ms := notify.NewMongoStore(client.Database(cfg.Mongo.Database))
		if err := ms.EnsureIndexes(ctx); err != nil {
			logger.Warn("notification indexes not created", zap.Error(err))
		}
		notifier.Store = ms
	} else {
		logger.Warn("mongo.uri not set; notifications are pushed but not stored")
	}

	gateway := payments.NewPaystack(cfg.Paystack.BaseURL, cfg.Paystack.SecretKey, cfg.PaystackTimeout())
	if cfg.Paystack.SecretKey == "" {
		logger.Warn("paystack.secret_key not set; payments and webhooks will be rejected")
	}

	var images services.ImageStore
	cld := media.NewCloudinary(cfg.Cloudinary.CloudName, cfg.Cloudinary.APIKey, cfg.Cloudinary.APISecret, cfg.Cloudinary.Folder)
	if cld.Configured() {
		images = cld
	} else {
		logger.Warn("cloudinary not configured; image file uploads disabled")
	}

	acceptance := &services.AcceptanceService{Store: st, Notifier: notifier, Log: logger.Named("acceptance")}
	h := &internalhttp.Handler{
		Requests: &services.RequestService{
			Store:      st,
			Acceptance: acceptance,
			Notifier:   notifier,
			Push:       hub,
			Images:     images,
			Log:        logger.Named("requests"),
			DailyLimit: cfg.Requests.DailyLimit,
			DefaultTTL: cfg.RequestTTL(),
		},
		Offers: &services.OfferService{
			Store:      st,
			Acceptance: acceptance,
			Notifier:   notifier,
			Log:        logger.Named("offers"),
			DefaultTTL: cfg.OfferTTL(),
		},
		Orders: &services.OrderService{
			Store:       st,
			Gateway:     gateway,
			Notifier:    notifier,
			Log:         logger.Named("orders"),
			CallbackURL: cfg.Paystack.CallbackURL,
			PayoutDelay: cfg.PayoutDelay(),
		},
		Notifications: notifier,
		Hub:           hub,
		Log:           logger,
		Production:    cfg.IsProduction(),
	}
	srv := internalhttp.NewServer(h, internalhttp.Authenticator{Secret: []byte(cfg.Auth.JWTSecret)})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api listening", zap.String("addr", cfg.Server.Addr), zap.String("env", cfg.Server.Env))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
}
