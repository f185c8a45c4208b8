package seed

import "github.com/MrSnakeDoc/slugproxy/internal/domain"

// File is the top-level structure of the seed file.
//
//	services:
//	  - owner: team-a
//	    name: Checkout API
//	    algorithm: weighted_round_robin
//	    rateLimit: {limit: 100, windowSeconds: 60}
//	    instances:
//	      - {name: eu-1, url: "http://10.0.0.1:8080", weight: 2}
type File struct {
	Services []ServiceEntry `yaml:"services"`
}

// ServiceEntry declares one service.
type ServiceEntry struct {
	Owner     string                `yaml:"owner,omitempty"`
	Name      string                `yaml:"name"`
	Algorithm string                `yaml:"algorithm,omitempty"`
	RateLimit *domain.RateLimit     `yaml:"rateLimit,omitempty"`
	Instances []domain.InstanceSpec `yaml:"instances"`
}
