// Command seed-db applies migrations, loads the starter catalog into an empty
// database and creates an administrator account.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/lascentlo/db"
	"github.com/xenking/lascentlo/internal/catalog"
	"github.com/xenking/lascentlo/internal/domain/auth"
	"github.com/xenking/lascentlo/internal/domain/product"
	"github.com/xenking/lascentlo/internal/domain/user"
	"github.com/xenking/lascentlo/internal/storage/postgres"
)

type options struct {
	databaseURL   string
	adminEmail    string
	adminPassword string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.adminEmail, "admin-email", "admin@lascentlo.com", "administrator email")
	flag.StringVar(&opts.adminPassword, "admin-password", "", "administrator password (or SHOP_SEED_ADMIN_PASSWORD env)")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}
	if opts.adminPassword == "" {
		opts.adminPassword = os.Getenv("SHOP_SEED_ADMIN_PASSWORD")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	lg.Info("Running migrations")
	if err := postgres.RunMigrations(opts.databaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	productRepo := postgres.NewProductRepository(pool)
	if err := seedProducts(ctx, lg, productRepo); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if opts.adminPassword == "" {
		lg.Info("No admin password given, skipping admin account")
		return nil
	}
	// CreateAdmin never signs tokens.
	issuer, err := auth.NewIssuer("seed", 0)
	if err != nil {
		return err
	}
	users := user.NewService(postgres.NewUserRepository(pool), issuer)
	if err := seedAdmin(ctx, lg, users, opts.adminEmail, opts.adminPassword); err != nil {
		return errors.Wrap(err, "seed admin")
	}
	return nil
}

func seedProducts(ctx context.Context, lg *zap.Logger, repo *postgres.ProductRepository) error {
	page, err := repo.List(ctx, product.Filter{Page: 1, Limit: 1})
	if err != nil {
		return errors.Wrap(err, "count products")
	}
	if page.Total > 0 {
		lg.Info("Catalog is not empty, skipping products", zap.Int("total", page.Total))
		return nil
	}

	f, err := db.Seed.Open("seed/products.json")
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	records, err := catalog.ReadArray(f)
	if err != nil {
		return err
	}

	svc := product.NewService(repo)
	for _, rec := range records {
		p := rec.Product()
		if err := svc.Create(ctx, p); err != nil {
			return errors.Wrapf(err, "create %q", rec.Name)
		}
		lg.Info("Created product", zap.String("id", p.ID), zap.String("name", p.Name))
	}
	return nil
}

func seedAdmin(ctx context.Context, lg *zap.Logger, users *user.Service, email, password string) error {
	u, err := users.CreateAdmin(ctx, user.RegisterInput{
		Email:     email,
		Password:  password,
		FirstName: "Store",
		LastName:  "Admin",
	})
	if errors.Is(err, user.ErrEmailExists) {
		lg.Info("Admin account already exists", zap.String("email", email))
		return nil
	}
	if err != nil {
		return err
	}
	lg.Info("Created admin account", zap.String("id", u.ID), zap.String("email", u.Email))
	return nil
}
