package main

import (
	"context"
	"flag"
	"fmt"

	"go.uber.org/zap"

	"oliver-os/backend/internal/capture"
	"oliver-os/backend/pkg/config"
	"oliver-os/backend/pkg/logger"
)

// Seeds the capture store with sample thoughts and queues them for
// organization. Run the server afterwards to watch the pipeline work.
func main() {
	count := flag.Int("count", 0, "limit the number of seeded captures (0 = all)")
	flag.Parse()

	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Seeding capture store...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	captures, err := capture.NewStore(cfg.SQLitePath)
	if err != nil {
		log.Fatal("Failed to open capture store", zap.Error(err))
	}
	defer captures.Close()

	samples := []capture.CreateInput{
		{Type: capture.TypeText, Content: "Business idea: a subscription box for locally roasted coffee beans, curated monthly"},
		{Type: capture.TypeText, Content: "Met @jane doe at the meetup, she runs growth at a robotics startup and offered intros"},
		{Type: capture.TypeText, Content: "Task: draft the landing page copy for the coffee subscription before Friday"},
		{Type: capture.TypeText, Content: "Concept worth reading up on: spaced repetition for onboarding flows"},
		{Type: capture.TypeEmail, Content: "Fwd: investor newsletter mentions rising demand for specialty coffee DTC brands"},
	}
	if *count > 0 && *count < len(samples) {
		samples = samples[:*count]
	}

	ctx := context.Background()
	for _, sample := range samples {
		mem, err := captures.Create(ctx, sample)
		if err != nil {
			log.Fatal("Failed to create capture", zap.Error(err))
		}
		if _, err := captures.Enqueue(ctx, mem.ID); err != nil {
			log.Fatal("Failed to enqueue capture", zap.Error(err))
		}
		log.Info("Seeded capture",
			zap.String("memory_id", mem.ID),
			zap.String("type", string(mem.Type)))
	}

	log.Info("Seeding complete", zap.Int("count", len(samples)))
}
