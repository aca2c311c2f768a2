package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"topup-backend/internal/config"
	"topup-backend/internal/handlers"
	"topup-backend/internal/utils"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	address := flag.String("address", "0x742d35Cc6634C0532925a3b0F26750C66d78EB66", "account the token is issued for")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if config.AppConfig.Auth.JWTSecret == "" {
		log.Fatalf("auth.jwtSecret (or JWT_SECRET) is required")
	}
	if !utils.IsEvmAddress(*address) {
		log.Fatalf("Invalid address: %s", *address)
	}

	manager := handlers.NewJWTManager(config.AppConfig.Auth.JWTSecret, *ttl)
	tokenString, expiresAt, err := manager.Generate(*address)
	if err != nil {
		log.Fatalf("Error generating token: %v", err)
	}

	fmt.Println("============================================================")
	fmt.Println("JWT Token Generated for Testing")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(tokenString)
	fmt.Println()
	fmt.Println("Claims:")
	fmt.Printf("  User Address: %s\n", utils.NormalizeAddress(*address))
	fmt.Printf("  Expires: %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  curl -H 'Authorization: Bearer %s' http://%s/api/topups\n", tokenString, config.AppConfig.Server.Addr())
	fmt.Println()
	fmt.Println("The token authorises API calls; top-ups still need a credential")
	fmt.Println("installed through POST /api/auth for the same address.")
}
