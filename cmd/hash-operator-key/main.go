package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/jafarshop/catalogsync/internal/api/middleware"
)

func main() {
	apiKey := flag.String("key", "", "Operator API key to hash (generated when empty)")
	flag.Parse()

	key := *apiKey
	if key == "" && flag.NArg() > 0 {
		key = flag.Arg(0)
	}
	generated := false
	if key == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate API key: %v\n", err)
			os.Exit(1)
		}
		key = "op_" + hex.EncodeToString(buf)
		generated = true
	}

	hash, err := middleware.HashAPIKey(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash API key: %v\n", err)
		os.Exit(1)
	}

	if generated {
		fmt.Printf("API Key: %s\n", key)
		fmt.Println("⚠️  IMPORTANT: Save this API key securely. It will not be shown again!")
	}
	fmt.Printf("\nAdd to your environment:\n")
	fmt.Printf("OPERATOR_API_KEY_HASH='%s'\n", hash)
}
