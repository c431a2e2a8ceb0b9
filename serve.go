package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"my-teddy/checkout"
	"my-teddy/config"
	"my-teddy/controllers"
	"my-teddy/events"
	"my-teddy/middleware"
	"my-teddy/routes"
	"my-teddy/store"
	"my-teddy/storefront"
	"my-teddy/utils"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the storefront API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

// openStore connects the configured backend
func openStore(ctx context.Context, c config.Config) (store.Store, error) {
	switch c.StoreBackend {
	case config.BackendMongo:
		m, err := store.ConnectMongo(ctx, c.MongoURI, c.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return m, nil
	case config.BackendPostgres:
		p, err := store.OpenPostgres(ctx, c.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return store.NewMemory(), nil
	}
}

func newMailer(c config.Config, logger *zap.Logger) utils.Mailer {
	switch c.MailProvider {
	case config.MailPostmark:
		return utils.NewPostmarkMailer(c.PostmarkToken, c.EmailSender)
	case config.MailSendGrid:
		return utils.NewSendGridMailer(c.SendGridKey, c.EmailSender)
	default:
		return utils.LogMailer{Logger: logger.Named("mail")}
	}
}

// openPublisher dials the broker when one is configured. The returned close
// func is never nil.
func openPublisher(c config.Config, logger *zap.Logger) (events.Publisher, func(), error) {
	if c.RabbitURI == "" {
		logger.Info("no broker configured, order events go to the log")
		return events.LogPublisher{Logger: logger.Named("events")}, func() {}, nil
	}
	b, err := events.Dial(c.RabbitURI, c.OrdersQueue)
	if err != nil {
		return nil, nil, err
	}
	return b, func() {
		if err := b.Close(); err != nil {
			logger.Warn("closing broker", zap.Error(err))
		}
	}, nil
}

func serve(ctx context.Context, c config.Config, logger *zap.Logger) error {
	db, err := openStore(ctx, c)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(context.Background()); err != nil {
			logger.Warn("closing store", zap.Error(err))
		}
	}()
	if m, ok := db.(*store.Mongo); ok {
		if err := m.EnsureIndexes(ctx); err != nil {
			return err
		}
	}

	publisher, closePublisher, err := openPublisher(c, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	tokens := utils.NewTokens(c.JWTSecret, utils.DefaultTokenTTL)
	emailService := utils.NewEmailService(newMailer(c, logger), c.PublicBaseURL)
	shoppers := storefront.NewRegistry(db, db, c.SessionIdleLimit, logger)
	orders := checkout.NewService(db, publisher, emailService, logger)

	router := mux.NewRouter()
	router.Use(middleware.Logging(logger))
	routes.RegisterRoutes(router, routes.Controllers{
		Users:    controllers.NewUserController(db, tokens, emailService, shoppers, logger),
		Products: controllers.NewProductController(db, logger),
		Cart:     controllers.NewCartController(db, logger),
		Wishlist: controllers.NewWishlistController(db, logger),
		Orders:   controllers.NewOrderController(orders, logger),
		Profile:  controllers.NewProfileController(db, db, c.UploadDir, logger),
	}, middleware.Auth(tokens, shoppers, logger), c.UploadDir)

	srv := &http.Server{
		Addr:              ":" + c.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server is running", zap.String("addr", srv.Addr), zap.String("store", c.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listening: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		orders.Wait()
		return shoppers.Close(sctx)
	})
	return g.Wait()
}
