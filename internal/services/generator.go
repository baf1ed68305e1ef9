package services

import (
	"context"

	"concurseiro-backend/internal/models"
)

// Tier selects which configured model serves a request.
type Tier string

const (
	TierSearch     Tier = "search"
	TierSimulation Tier = "simulation"
	TierPrecision  Tier = "precision"
)

// Shape asks the provider for structured output of a known form.
type Shape int

const (
	ShapeText Shape = iota
	ShapeQuestions
	ShapePlan
	ShapeSubjects
)

type GenerateRequest struct {
	Op          string
	Tier        Tier
	Prompt      string
	Temperature float32
	Shape       Shape
}

type Generation struct {
	Text    string
	Sources []models.Source
}

// Generator is one call to a language model.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Generation, error)
	Close() error
}
