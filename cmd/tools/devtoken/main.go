// Command devtoken mints an access token for local development, signed with
// the JWT_SECRET the API verifies against.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-billswift/internal/auth"
	"github.com/noah-isme/backend-billswift/internal/common"
	"github.com/noah-isme/backend-billswift/internal/config"
)

func main() {
	_ = godotenv.Load()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	sub := flag.String("sub", "", "user id (uuid); generated when empty")
	code := flag.String("code", "DEV01", "employee code")
	role := flag.String("role", common.RoleUser, "role: user or admin")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if cfg.IsProduction() {
		logger.Fatal().Msg("devtoken refuses to run with APP_ENV=production")
	}
	if *role != common.RoleUser && *role != common.RoleAdmin {
		logger.Fatal().Str("role", *role).Msg("unknown role")
	}
	id := *sub
	if id == "" {
		id = uuid.NewString()
	}

	tokens, err := auth.NewTokens(auth.Config{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		AccessTTL: *ttl,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init tokens")
	}
	token, exp, err := tokens.Issue(common.Principal{ID: id, EmployeeCode: *code, Role: *role})
	if err != nil {
		logger.Fatal().Err(err).Msg("sign token")
	}
	logger.Info().Str("sub", id).Str("role", *role).Time("expires_at", exp).Msg("token issued")
	fmt.Println(token)
}
