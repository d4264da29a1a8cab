package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"

	"github.com/raushankrgupta/tryon-orchestrator/config"
	"github.com/raushankrgupta/tryon-orchestrator/models"
	"github.com/raushankrgupta/tryon-orchestrator/providers"
	"github.com/raushankrgupta/tryon-orchestrator/tryon"
	"github.com/raushankrgupta/tryon-orchestrator/utils"
)

// Submits one try-on to the configured provider and polls it to a terminal
// state. No balance is touched.
func main() {
	kind := flag.String("kind", "image", "image or video")
	userImage := flag.String("user-image", "", "person image URL or S3 key")
	subject := flag.String("subject", "", "product image/video URL or S3 key")
	flag.Parse()

	config.LoadConfig()
	logger := utils.NewLogger("test-tryon", config.LogLevel)

	pricing := tryon.Pricing{
		ImageCost:        config.ImageCost,
		VideoCost:        config.VideoCost,
		ImageMaxAttempts: config.ImageMaxAttempts,
		VideoMaxAttempts: config.VideoMaxAttempts,
	}
	req := pricing.NewRequest(models.Kind(*kind), "manual", "manual", *userImage, *subject)
	if err := tryon.Validate(req); err != nil {
		log.Fatalf("Invalid request: %v", err)
	}

	provider, err := providers.GetProvider(config.ProviderName, logger)
	if err != nil {
		log.Fatalf("Failed to create provider: %v", err)
	}

	fmt.Printf("Submitting %s try-on to %s provider\n", req.Kind, config.ProviderName)
	providerTaskID, err := provider.Submit(context.Background(), req)
	if err != nil {
		log.Fatalf("Submission failed: %v", err)
	}
	fmt.Printf("Provider task: %s\n", providerTaskID)

	scheduler := tryon.NewScheduler(provider, config.PollInterval, logger)
	scheduler.OnTick = func(p tryon.Poll, checkErr error) {
		if checkErr != nil {
			fmt.Printf("Attempt %d: status check failed: %v\n", p.Attempts, checkErr)
			return
		}
		fmt.Printf("Attempt %d/%d: %s\n", p.Attempts, p.MaxAttempts, p.State)
	}

	p, err := scheduler.Run(context.Background(), providerTaskID, pricing.BudgetFor(req.Kind))
	if err != nil {
		log.Fatalf("Polling stopped: %v", err)
	}

	b, _ := json.MarshalIndent(p, "", "  ")
	fmt.Printf("Result: %s\n", string(b))
	fmt.Println("--------------------------------------------------")
}
