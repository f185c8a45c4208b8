package main

import (
	"log"

	"github.com/MrSnakeDoc/slugproxy/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ slugproxy failed to start: %v", err)
	}
}
