package main

import (
	"flag"
	"fmt"
	"log"

	"topup-backend/internal/config"
	"topup-backend/internal/db"
	"topup-backend/internal/models"
)

// minimum column widths the deposit store relies on
var requiredSizes = map[string]int64{
	"id":         36,
	"account":    42,
	"to_address": 42,
	"tx_hash":    66,
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	migrate := flag.Bool("migrate", false, "run AutoMigrate before checking")
	flag.Parse()

	fmt.Println("🔍 Verifying database connection and deposit schema...")

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	conn, err := db.Open(config.AppConfig.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		log.Fatalf("Failed to get database connection: %v", err)
	}
	defer sqlDB.Close()
	fmt.Printf("📋 Connected (%s)\n", conn.Dialector.Name())

	if *migrate {
		if err := db.Migrate(conn); err != nil {
			log.Fatalf("AutoMigrate failed: %v", err)
		}
		fmt.Println("✅ Schema migrated")
	}

	migrator := conn.Migrator()
	if !migrator.HasTable(&models.Deposit{}) {
		fmt.Println("❌ deposits table does not exist (run with -migrate)")
		return
	}

	columns, err := migrator.ColumnTypes(&models.Deposit{})
	if err != nil {
		log.Fatalf("Failed to read column types: %v", err)
	}

	ok := true
	seen := make(map[string]bool)
	for _, col := range columns {
		want, tracked := requiredSizes[col.Name()]
		if !tracked {
			continue
		}
		seen[col.Name()] = true
		size, hasSize := col.Length()
		if hasSize && size < want {
			fmt.Printf("❌ deposits.%s is VARCHAR(%d), need at least %d\n", col.Name(), size, want)
			ok = false
			continue
		}
		fmt.Printf("✅ deposits.%s (%s)\n", col.Name(), col.DatabaseTypeName())
	}
	for name := range requiredSizes {
		if !seen[name] {
			fmt.Printf("❌ deposits.%s column does not exist!\n", name)
			ok = false
		}
	}

	if !ok {
		log.Fatalf("Deposit schema check failed")
	}
	fmt.Println("✅ Database connection and deposit schema verified")
}
