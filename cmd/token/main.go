// Command token mints a player JWT for local development.
//
//	token -id u-alice -username alice
//	curl -H "Authorization: Bearer $(token -id u-alice)" localhost:8080/api/clans/andromeda
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/freshy/clanwars/auth"
	"github.com/freshy/clanwars/config"
	"github.com/freshy/clanwars/ledger"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (for auth.jwt_secret)")
	id := flag.String("id", "", "user id (token subject)")
	username := flag.String("username", "", "username claim")
	role := flag.String("role", string(ledger.RoleMember), "role claim")
	ttl := flag.Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	flag.Parse()

	if *id == "" {
		fmt.Fprintln(os.Stderr, "token: -id is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		os.Exit(1)
	}
	lifetime := cfg.Auth.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	token, err := auth.NewIssuer(cfg.Auth.JWTSecret, lifetime).Issue(&ledger.User{
		ID:       ledger.UserID(*id),
		Username: *username,
		Role:     ledger.Role(*role),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
	if lifetime > 0 {
		fmt.Fprintf(os.Stderr, "expires %s\n", time.Now().Add(lifetime).Format(time.RFC3339))
	}
}
