//go:build ignore

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: CONTROL_JWT_SECRET=... go run generate_control_token.go <operator> [ttl]")
		fmt.Println("Example: CONTROL_JWT_SECRET=s3cret go run generate_control_token.go ops 720h")
		os.Exit(1)
	}

	secret := os.Getenv("CONTROL_JWT_SECRET")
	if secret == "" {
		fmt.Println("CONTROL_JWT_SECRET is not set")
		os.Exit(1)
	}

	ttl := 24 * time.Hour
	if len(os.Args) > 2 {
		parsed, err := time.ParseDuration(os.Args[2])
		if err != nil {
			fmt.Printf("Invalid ttl: %v\n", err)
			os.Exit(1)
		}
		ttl = parsed
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  os.Args[1],
		"role": "operator",
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		fmt.Printf("Error signing token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Operator: %s\n", os.Args[1])
	fmt.Printf("Expires: %s\n", now.Add(ttl).Format(time.RFC3339))
	fmt.Printf("Token: %s\n", token)
	fmt.Println("\nUse it on control requests:")
	fmt.Printf("curl -X POST -H 'Authorization: Bearer %s' -d '{\"action\":\"test\"}' http://localhost:8080/scheduler\n", token)
}
