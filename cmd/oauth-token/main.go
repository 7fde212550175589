package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/config"
	"github.com/jafarshop/catalogsync/internal/shopify"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/oauth-token/main.go <shop-domain> [code]")
		fmt.Println("Example: go run cmd/oauth-token/main.go jafarshop.myshopify.com")
		fmt.Println("\nReads SHOPIFY_CLIENT_ID, SHOPIFY_CLIENT_SECRET and SHOPIFY_SCOPES from the environment.")
		fmt.Println("1. Run this script - it will give you an authorization URL")
		fmt.Println("2. Visit the URL in your browser and authorize")
		fmt.Println("3. Copy the 'code' from the redirect URL")
		fmt.Println("4. Run the script again with the code")
		os.Exit(1)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Shopify.ClientID == "" || cfg.Shopify.ClientSecret == "" {
		fmt.Fprintf(os.Stderr, "SHOPIFY_CLIENT_ID and SHOPIFY_CLIENT_SECRET must be set\n")
		os.Exit(1)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	shopDomain := shopify.NormalizeShopDomain(os.Args[1])
	oauth := shopify.NewOAuthClient(cfg.Shopify.ClientID, cfg.Shopify.ClientSecret, cfg.Shopify.Scopes, logger)

	// Step 2: exchange the code
	if len(os.Args) >= 3 {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		tok, err := oauth.ExchangeCode(ctx, shopDomain, os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to get access token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✅ Access Token obtained (scope: %s)\n\n", tok.Scope)
		fmt.Printf("Register the shop with:\n")
		fmt.Printf("curl -X POST %s/v1/tenants -H 'Authorization: Bearer <operator key>' \\\n", cfg.AppBaseURL)
		fmt.Printf("  -d '{\"shop_domain\":\"%s\",\"access_token\":\"%s\",\"scope\":\"%s\"}'\n", shopDomain, tok.AccessToken, tok.Scope)
		return
	}

	// Step 1: Generate authorization URL
	authURL := oauth.AuthorizeURL(shopDomain, "urn:ietf:wg:oauth:2.0:oob", "")

	fmt.Printf("Step 1: Authorize the app\n\n")
	fmt.Printf("Visit this URL in your browser:\n")
	fmt.Printf("%s\n\n", authURL)
	fmt.Printf("After authorizing, you'll get a code.\n")
	fmt.Printf("Then run:\n")
	fmt.Printf("go run cmd/oauth-token/main.go %s <code>\n", shopDomain)
}
