package domain

import "context"

// GenerateRequest is the body sent to the image generation service.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

// GenerateResponse is the body returned by the image generation service.
type GenerateResponse struct {
	Version string   `json:"version,omitempty"`
	Images  []string `json:"images"`
}

// Generator produces images for a prompt. Implementations must honor ctx
// cancellation; the caller bounds every call with a timeout.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}
