package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/xueqianLu/hsmsigner/pkg/client"
)

func main() {
	baseURL := envOr("SIGNER_URL", "http://localhost:3000")
	keyID := envOr("SIGNER_KEY_ID", "1")
	c := client.NewClient(baseURL, os.Getenv("SIGNER_API_KEY"), os.Getenv("SIGNER_API_SECRET"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("1. Performing Health Check...")
	if err := c.Ping(ctx); err != nil {
		log.Fatalf("Health check failed: %v", err)
	}

	fmt.Println("2. Resolving key address...")
	from, err := c.Address(ctx, keyID)
	if err != nil {
		log.Fatalf("Failed to get address: %v", err)
	}
	fmt.Printf("   Key %s signs as %s\n\n", keyID, from.Hex())

	fmt.Println("3. Signing a Legacy Transaction...")
	to := common.HexToAddress("0xe673243b0573080B20E55C62f4d4b685B00427B9")
	raw, err := c.SignTransaction(ctx, keyID, client.TxArgs{
		From:     &from,
		To:       &to,
		ChainID:  (*hexutil.Big)(big.NewInt(11155420)),
		Nonce:    0,
		GasPrice: (*hexutil.Big)(big.NewInt(1200305)),
		Gas:      31500,
		Value:    (*hexutil.Big)(big.NewInt(10000000000000000)),
	})
	if err != nil {
		log.Fatalf("Failed to sign transaction: %v", err)
	}
	fmt.Printf("   Signed raw transaction: %s\n", raw)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
