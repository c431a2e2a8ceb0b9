package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"my-teddy/events"
	"my-teddy/models"
	"my-teddy/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create tables or indexes for the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close(context.Background())

		switch s := db.(type) {
		case *store.Postgres:
			err = s.Migrate(cmd.Context())
		case *store.Mongo:
			err = s.EnsureIndexes(cmd.Context())
		default:
			logger.Info("nothing to migrate", zap.String("store", cfg.StoreBackend))
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("migrated", zap.String("store", cfg.StoreBackend))
		return nil
	},
}

func sampleProducts() []models.Product {
	p := func(name, price, category, size, materials, image string, stock int) models.Product {
		return models.Product{
			Name:        name,
			Description: name + " is soft, huggable and hand finished.",
			Price:       decimal.RequireFromString(price),
			Category:    category,
			Images:      []string{image},
			Materials:   materials,
			Size:        size,
			Stock:       stock,
		}
	}
	return []models.Product{
		p("Classic Brown Bear", "29.99", "bears", "30cm", "Plush polyester", "/images/classic-brown.jpg", 25),
		p("Honey Hug Bear", "34.50", "bears", "35cm", "Organic cotton", "/images/honey-hug.jpg", 12),
		p("Polar Snowball", "39.00", "bears", "40cm", "Faux fur", "/images/polar-snowball.jpg", 8),
		p("Bunny Buttons", "19.99", "bunnies", "25cm", "Minky fabric", "/images/bunny-buttons.jpg", 30),
		p("Sleepy Panda", "44.00", "pandas", "45cm", "Bamboo fleece", "/images/sleepy-panda.jpg", 6),
	}
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert the sample catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close(context.Background())
		if _, ok := db.(*store.Memory); ok {
			logger.Warn("seeding the memory store has no lasting effect")
		}

		for _, p := range sampleProducts() {
			created, err := db.CreateProduct(cmd.Context(), p)
			if errors.Is(err, store.ErrDuplicate) {
				continue
			}
			if err != nil {
				return fmt.Errorf("seeding %s: %w", p.Name, err)
			}
			logger.Info("seeded product", zap.String("id", created.ID), zap.String("name", created.Name))
		}
		return nil
	},
}

var prefetch int

var fulfilCmd = &cobra.Command{
	Use:   "fulfil",
	Short: "Consume placed orders from the broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.RabbitURI == "" {
			return errors.New("RABBITMQ_URI is required to consume orders")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		b, err := events.Dial(cfg.RabbitURI, cfg.OrdersQueue)
		if err != nil {
			return err
		}
		defer b.Close()

		warehouse := events.NewWarehouse(logger)
		logger.Info("waiting for orders", zap.String("queue", cfg.OrdersQueue))
		if err := b.Consume(ctx, prefetch, logger, warehouse.Handle); err != nil {
			return err
		}
		logger.Info("stopped", zap.Int("orders", warehouse.Orders()))
		return nil
	},
}

func init() {
	fulfilCmd.Flags().IntVar(&prefetch, "prefetch", 10, "unacknowledged deliveries held at once")
}
