package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ActionSource records where an embedded action came from.
type ActionSource string

const (
	ActionSourceCatalog ActionSource = "catalog"
	ActionSourceCustom  ActionSource = "custom"
)

// Difficulty grades the effort an action requires.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is a known difficulty.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Site is an optional geofence a proof location must fall within.
type Site struct {
	Latitude     float64 `json:"latitude" yaml:"latitude"`
	Longitude    float64 `json:"longitude" yaml:"longitude"`
	RadiusMeters float64 `json:"radius_meters" yaml:"radius_meters"`
}

// ProofRequirements describes what evidence an action demands.
type ProofRequirements struct {
	RequiresLocation bool   `json:"requires_location" yaml:"requires_location"`
	Instructions     string `json:"instructions,omitempty" yaml:"instructions"`
	Site             *Site  `json:"site,omitempty" yaml:"site"`
}

// LocationRequired reports whether a proof must carry a location. A site
// geofence implies it.
func (p ProofRequirements) LocationRequired() bool {
	return p.RequiresLocation || p.Site != nil
}

// Action is the immutable remediation work embedded in a Commitment.
type Action struct {
	Source         ActionSource      `json:"source"`
	CatalogID      string            `json:"catalog_id,omitempty"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Category       string            `json:"category"`
	EstimatedHours float64           `json:"estimated_hours"`
	Difficulty     Difficulty        `json:"difficulty"`
	Proof          ProofRequirements `json:"proof"`
}

// AvailableAction is the capability surface shared by catalog entries and
// user-authored actions. It is resolved once, at commitment creation.
type AvailableAction interface {
	Resolve() Action
}

// CatalogAction is an entry of the curated action catalog.
type CatalogAction struct {
	ID             string            `json:"id" yaml:"id"`
	Title          string            `json:"title" yaml:"title"`
	Description    string            `json:"description" yaml:"description"`
	Category       string            `json:"category" yaml:"category"`
	EstimatedHours float64           `json:"estimated_hours" yaml:"estimated_hours"`
	Difficulty     Difficulty        `json:"difficulty" yaml:"difficulty"`
	Proof          ProofRequirements `json:"proof" yaml:"proof"`
}

// Resolve embeds the catalog entry.
func (a CatalogAction) Resolve() Action {
	return Action{
		Source:         ActionSourceCatalog,
		CatalogID:      a.ID,
		Title:          a.Title,
		Description:    a.Description,
		Category:       a.Category,
		EstimatedHours: a.EstimatedHours,
		Difficulty:     a.Difficulty,
		Proof:          cloneRequirements(a.Proof),
	}
}

// CustomAction is an action written by the user during setup.
type CustomAction struct {
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Category       string            `json:"category"`
	EstimatedHours float64           `json:"estimated_hours"`
	Difficulty     Difficulty        `json:"difficulty"`
	Proof          ProofRequirements `json:"proof"`
}

// Resolve clones the custom action so later edits never reach the commitment.
func (a CustomAction) Resolve() Action {
	category := a.Category
	if category == "" {
		category = "custom"
	}
	return Action{
		Source:         ActionSourceCustom,
		Title:          strings.TrimSpace(a.Title),
		Description:    strings.TrimSpace(a.Description),
		Category:       category,
		EstimatedHours: a.EstimatedHours,
		Difficulty:     a.Difficulty,
		Proof:          cloneRequirements(a.Proof),
	}
}

func cloneRequirements(p ProofRequirements) ProofRequirements {
	if p.Site != nil {
		site := *p.Site
		p.Site = &site
	}
	return p
}

// Validate checks the fields every resolved action must carry.
func (a Action) Validate() error {
	if strings.TrimSpace(a.Title) == "" {
		return eris.New("action title is required")
	}
	if a.EstimatedHours < 0 {
		return eris.Errorf("estimated hours must not be negative, got %v", a.EstimatedHours)
	}
	if a.Difficulty != "" && !a.Difficulty.Valid() {
		return eris.Errorf("unknown difficulty %q", a.Difficulty)
	}
	if site := a.Proof.Site; site != nil {
		if !(Location{Latitude: site.Latitude, Longitude: site.Longitude}).Valid() {
			return eris.New("action site coordinates out of range")
		}
		if site.RadiusMeters <= 0 {
			return eris.New("action site radius must be positive")
		}
	}
	return nil
}
