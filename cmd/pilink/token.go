package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/clawinfra/pilink/internal/config"
	"github.com/clawinfra/pilink/internal/security"
)

// runToken prints a bearer token signed with the configured secret.
func runToken(args []string, configPath, envFile string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	subject := fs.String("subject", "operator", "Token subject (who the token is for)")
	role := fs.String("role", security.RoleOperator, "Role: operator or viewer")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	quiet := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg, err := loadConfig(configPath, quiet, false)
	if err != nil {
		fmt.Fprintf(stderr, "Error: load config: %v\n", err)
		return 1
	}
	if cfg.Auth.JWTSecret == "" {
		fmt.Fprintln(stderr, "Error: auth.jwtSecret is not configured (set it in the config or PILINK_JWT_SECRET)")
		return 1
	}
	if *ttl <= 0 {
		fmt.Fprintln(stderr, "Error: --ttl must be positive")
		return 1
	}

	tok, err := security.GenerateToken(*subject, *role, cfg.Auth.Issuer, []byte(cfg.Auth.JWTSecret), *ttl)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, tok)
	return 0
}
