package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/handler"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
)

type productJSON struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		shopperToken string
		shopperEmail string
		tokenPepper  string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&shopperToken, "shopper-token", "", "shopper token to seed (or SHOP_SEED_TOKEN env)")
	flag.StringVar(&shopperEmail, "shopper-email", "shopper@example.com", "email for the seeded shopper")
	flag.StringVar(&tokenPepper, "token-pepper", "", "HMAC pepper for token hashing (or SHOP_TOKEN_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if shopperToken == "" {
		shopperToken = os.Getenv("SHOP_SEED_TOKEN")
	}
	if shopperToken == "" {
		slog.Error("shopper token is required: set --shopper-token or SHOP_SEED_TOKEN")
		os.Exit(1)
	}
	if tokenPepper == "" {
		tokenPepper = os.Getenv("SHOP_TOKEN_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, shopperToken, shopperEmail, tokenPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, token, email, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, postgres.NewCatalogRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedShopper(ctx, postgres.NewSessionRepository(pool), token, email, pepper); err != nil {
		return errors.Wrap(err, "seed shopper")
	}

	return nil
}

func seedProducts(ctx context.Context, repo *postgres.CatalogRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if err := repo.UpsertProduct(ctx, catalog.Product{
			ID:             p.ID,
			Name:           p.Name,
			UnitPrice:      p.Price,
			AvailableStock: p.Stock,
			Status:         catalog.StatusActive,
		}); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedShopper(ctx context.Context, repo *postgres.SessionRepository, token, email, pepper string) error {
	slog.Info("seeding shopper session", slog.String("email", email))

	return repo.CreateSession(ctx, &auth.Session{
		ShopperID: "shopper-dev",
		Email:     email,
		TokenHash: handler.HashToken(token, []byte(pepper)),
	})
}
