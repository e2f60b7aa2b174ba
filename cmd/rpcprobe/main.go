package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vietddude/resilient/internal/infra/rpc"
	"github.com/vietddude/resilient/internal/resilience/cancel"
	"github.com/vietddude/resilient/internal/resilience/retry"
)

// rpcprobe calls a JSON-RPC method through the retrying invoker and reports
// how many attempts each call needed.
func main() {
	method := flag.String("method", "eth_blockNumber", "JSON-RPC method")
	calls := flag.Int("n", 5, "number of calls")
	timeout := flag.Duration("timeout", rpc.DefaultTimeout, "retry budget per call")
	flag.Parse()

	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found")
	}

	RPC_URL := os.Getenv("RPC_URL")
	if RPC_URL == "" {
		log.Fatalf("RPC_URL is not set")
	}

	ctx := context.Background()
	token := cancel.New()
	stop := token.OnSignal(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := rpc.NewHTTPClient(RPC_URL, 10*time.Second)
	defer client.Close()

	fmt.Printf("=== Probing %s ===\n\n", *method)

	for i := 0; i < *calls && !token.IsCancelled(); i++ {
		attempts := 0
		start := time.Now()
		result, err := rpc.Call(ctx, *timeout, token, func(ctx context.Context) (string, error) {
			raw, err := client.Call(ctx, *method, []any{})
			return string(raw), err
		}, retry.WithAttemptHook(func(n int) { attempts = n }))
		if err != nil {
			log.Printf("Call %d failed after %d attempts: %v", i+1, attempts, err)
			continue
		}
		fmt.Printf("Call %d: %s (attempts=%d, took=%v)\n", i+1, result, attempts, time.Since(start).Round(time.Millisecond))

		time.Sleep(100 * time.Millisecond)
	}
}
