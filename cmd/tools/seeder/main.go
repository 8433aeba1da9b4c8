// Command seeder loads demo users, components and priced bundles. Bundles go
// through the catalog service so their prices come from the pricing engine.
// Re-running it is safe: existing users and components are reused.
package main

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-billswift/internal/catalog"
	"github.com/noah-isme/backend-billswift/internal/common"
	"github.com/noah-isme/backend-billswift/internal/obs"
	"github.com/noah-isme/backend-billswift/internal/pricing"
	"github.com/noah-isme/backend-billswift/internal/repo"
)

type seedUser struct {
	Email string
	Code  string
	Role  string
}

type seedComponent struct {
	Key   string
	Name  string
	Brand string
	Model string
	Price string
}

type seedLine struct {
	Key      string
	Quantity int
	Override string
}

type seedBundle struct {
	Category string
	Rating   string
	Lines    []seedLine
}

var users = []seedUser{
	{"admin@billswift.local", "ADM01", common.RoleAdmin},
	{"counter1@billswift.local", "E1001", common.RoleUser},
	{"counter2@billswift.local", "E1002", common.RoleUser},
}

var components = []seedComponent{
	{"contactor-9", "Contactor", "Schneider", "LC1D09", "24.50"},
	{"contactor-18", "Contactor", "Schneider", "LC1D18", "39.90"},
	{"contactor-32", "Contactor", "Schneider", "LC1D32", "78.00"},
	{"overload-9", "Thermal Overload Relay", "Schneider", "LRD14", "31.20"},
	{"overload-32", "Thermal Overload Relay", "Schneider", "LRD32", "55.00"},
	{"timer", "Star-Delta Timer", "Omron", "H3CR-G8EL", "42.75"},
	{"mcb", "Motor Circuit Breaker", "ABB", "MS132", "64.30"},
	{"enclosure", "Steel Enclosure", "Rittal", "AE1034", "96.00"},
	{"pushbutton", "Start/Stop Pushbutton Set", "ABB", "MP1-10", "12.40"},
}

var bundles = []seedBundle{
	{"DOL", "5.5", []seedLine{{"contactor-9", 1, ""}, {"overload-9", 1, ""}, {"pushbutton", 1, ""}, {"enclosure", 1, ""}}},
	{"DOL", "7.5", []seedLine{{"contactor-18", 1, ""}, {"overload-9", 1, ""}, {"pushbutton", 1, ""}, {"enclosure", 1, ""}}},
	{"RDOL", "11", []seedLine{{"contactor-18", 2, ""}, {"overload-32", 1, ""}, {"pushbutton", 2, "11.00"}, {"enclosure", 1, ""}}},
	{"S/D", "15", []seedLine{{"contactor-18", 2, ""}, {"contactor-9", 1, ""}, {"overload-32", 1, ""}, {"timer", 1, ""}, {"mcb", 1, ""}, {"enclosure", 1, "89.00"}}},
	{"S/D", "30", []seedLine{{"contactor-32", 3, ""}, {"overload-32", 1, ""}, {"timer", 1, ""}, {"mcb", 1, ""}, {"enclosure", 1, ""}}},
}

func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger(os.Getenv("OBS_LOG_FORMAT"), os.Getenv("OBS_LOG_LEVEL"))

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := seedUsers(ctx, pool, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed users")
	}

	store := repo.NewPostgres(pool)
	svc, err := catalog.NewService(catalog.ServiceConfig{Store: store, Engine: pricing.Engine{}, Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("init catalog")
	}
	ids, err := seedComponents(ctx, svc, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed components")
	}
	if err := seedBundles(ctx, svc, ids, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed bundles")
	}
	logger.Info().Msg("seeding completed")
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	for _, u := range users {
		if _, err := pool.Exec(ctx, `
			INSERT INTO users (email, employee_code, role) VALUES ($1, $2, $3)
			ON CONFLICT (email) DO UPDATE SET employee_code = EXCLUDED.employee_code, role = EXCLUDED.role`,
			u.Email, u.Code, u.Role); err != nil {
			return err
		}
		logger.Info().Str("email", u.Email).Str("role", u.Role).Msg("user ready")
	}
	return nil
}

func seedComponents(ctx context.Context, svc *catalog.Service, logger zerolog.Logger) (map[string]string, error) {
	existing, err := svc.ListComponents(ctx)
	if err != nil {
		return nil, err
	}
	byIdentity := make(map[[3]string]string, len(existing))
	for _, c := range existing {
		byIdentity[[3]string{c.Name, c.Brand, c.Model}] = c.ID
	}

	ids := make(map[string]string, len(components))
	for _, sc := range components {
		if id, ok := byIdentity[[3]string{sc.Name, sc.Brand, sc.Model}]; ok {
			ids[sc.Key] = id
			continue
		}
		c, err := svc.CreateComponent(ctx, catalog.ComponentInput{
			Name:          sc.Name,
			Brand:         sc.Brand,
			Model:         sc.Model,
			BaseUnitPrice: decimal.RequireFromString(sc.Price),
		})
		if err != nil {
			return nil, err
		}
		ids[sc.Key] = c.ID
		logger.Info().Str("component", sc.Name+" "+sc.Model).Msg("component created")
	}
	return ids, nil
}

func seedBundles(ctx context.Context, svc *catalog.Service, ids map[string]string, logger zerolog.Logger) error {
	existing, err := svc.ListBundles(ctx, catalog.BundleFilter{IncludeInactive: true})
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, b := range existing {
		have[b.Label().DisplayName()] = true
	}

	for _, sb := range bundles {
		rating := decimal.RequireFromString(sb.Rating)
		name := catalog.Label{Category: sb.Category, Rating: rating}.DisplayName()
		if have[name] {
			continue
		}
		in := catalog.BundleInput{Category: sb.Category, Rating: rating}
		for _, l := range sb.Lines {
			line := catalog.LineInput{ComponentID: ids[l.Key], Quantity: l.Quantity}
			if l.Override != "" {
				v := decimal.RequireFromString(l.Override)
				line.UnitPriceOverride = &v
			}
			in.Lines = append(in.Lines, line)
		}
		b, err := svc.CreateBundle(ctx, in)
		if err != nil {
			return err
		}
		logger.Info().Str("bundle", name).Str("total_price", pricing.Format(b.TotalPrice)).Msg("bundle created")
	}
	return nil
}
