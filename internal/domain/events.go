package domain

import (
	"context"
	"time"
)

// GenerationEvent announces that a pod activated a cache generation.
type GenerationEvent struct {
	Generation  string    `json:"generation"`
	PodID       string    `json:"pod_id"`
	ActivatedAt time.Time `json:"activated_at"`
}

// GenerationPublisher broadcasts activations to peer gateway pods.
type GenerationPublisher interface {
	PublishActivated(ctx context.Context, event GenerationEvent) error
}

// ClientClaimer takes control of every open page on behalf of a generation.
type ClientClaimer interface {
	Claim(ctx context.Context, generation string) int
}
