// Command devtoken prints an access token for local testing of the API.
//
//	go run ./cmd/devtoken -member 42 -role OPERATOR
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/iliyamo/seat-admission/internal/config"
	"github.com/iliyamo/seat-admission/internal/logging"
	"github.com/iliyamo/seat-admission/internal/middleware"
	"github.com/iliyamo/seat-admission/internal/utils"
)

func main() {
	member := flag.Uint64("member", 1, "member id placed in the token subject")
	role := flag.String("role", middleware.RoleMember, "MEMBER or OPERATOR")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	secret := config.JWTSecret()
	tok, err := utils.NewAccessToken(secret, *member, *role, *ttl)
	if err != nil {
		logging.Fatal().Err(err).Msg("cannot sign token")
	}
	fmt.Println(tok.Token)
}
