// Command wagertoken mints bearer tokens for the wager-engine API using the
// same configuration as the server.
//
//	wagertoken -config wager.toml -sub alice
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/atmx/wager-engine/internal/auth"
	"github.com/atmx/wager-engine/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file (default $WAGER_CONFIG)")
	subject := flag.String("sub", "", "caller identity to embed in the token")
	ttl := flag.Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "wagertoken: -sub is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.Auth.Secret == "" {
		fmt.Fprintln(os.Stderr, "wagertoken: auth secret is not configured (WAGER_AUTH_SECRET)")
		os.Exit(1)
	}

	lifetime := cfg.Auth.TokenTTL.Duration
	if *ttl > 0 {
		lifetime = *ttl
	}

	tok, err := auth.NewTokens(cfg.Auth.Secret, lifetime).Issue(*subject)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
