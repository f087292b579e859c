package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
)

// Generates the random secrets the server needs at startup.
func main() {
	encryptionKey := make([]byte, 32)
	if _, err := rand.Read(encryptionKey); err != nil {
		fmt.Printf("Failed to generate encryption key: %v\n", err)
		os.Exit(1)
	}

	cookieSecret := make([]byte, 32)
	if _, err := rand.Read(cookieSecret); err != nil {
		fmt.Printf("Failed to generate cookie secret: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("--- COPY BELOW TO .env ---")
	fmt.Printf("ENCRYPTION_KEY=%s\n", base64.RawStdEncoding.EncodeToString(encryptionKey))
	fmt.Printf("COOKIE_SECRET=%s\n", base64.RawStdEncoding.EncodeToString(cookieSecret))
	fmt.Println("--------------------------")
}
