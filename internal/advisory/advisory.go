// Package advisory produces AI-assisted text for farmers and buyers:
// compliance advice, contract summaries, image annotations, contract
// template recommendations and proposal comparisons.
//
// Advisory output is a side channel. Every call returns usable text even
// when the model is missing, slow or failing; no error from here ever
// reaches a ledger or contract decision.
package advisory

import (
	"context"
	"time"
)

// Placeholder texts returned when the model cannot answer.
const (
	ComplianceUnavailable = "AI Compliance Helper is currently unavailable."
	ComplianceFailed      = "Could not generate compliance advice due to an error."
	ImageUnavailable      = "AI image analysis is currently unavailable."
	ImageFailed           = "Could not analyze image due to an error."
	SummaryUnavailable    = "AI summarizer is currently unavailable."
	SummaryFailed         = "Could not generate summary due to an error."
)

// DefaultTemplate is the contract template recommended without a model answer.
const DefaultTemplate = "Simple Supply Contract"

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ImageAnalyzer describes an image reference in free text.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, imageURL string) (string, error)
}

// Snapshot is a contract's financial position plus the latest field notes.
type Snapshot struct {
	ContractID     string
	CropType       string
	Status         string
	TotalValue     string
	AmountPaid     string
	EscrowAmount   string
	RemainingToPay string
	LatestNotes    string
}

// ContractBrief is what a summary is written from.
type ContractBrief struct {
	ContractID   string
	CropType     string
	Unit         string
	Quantity     string
	PricePerUnit string
	TotalValue   string
	PaymentTerms string
	BuyerName    string
	FarmerName   string
}

// ListingBrief describes a listing for template and proposal prompts.
type ListingBrief struct {
	CropType             string
	Quantity             string
	Unit                 string
	ExpectedPricePerUnit string
	FarmingPractice      string
	Location             string
	SoilType             string
}

// ProposalBrief is one pending proposal on a listing.
type ProposalBrief struct {
	ContractID   string
	BuyerID      string
	Quantity     string
	PricePerUnit string
	TotalValue   string
	PaymentTerms string
}

// TemplateRecommendation names a contract template for a listing.
type TemplateRecommendation struct {
	TemplateName string `json:"template_name"`
	Reason       string `json:"reason"`
}

// ProposalAnalysis picks the best proposal for the farmer.
type ProposalAnalysis struct {
	BestProposalID string `json:"bestProposalId"`
	Reason         string `json:"reason"`
	Fallback       bool   `json:"fallback"`
}

// Advice is a stored compliance advisory for a contract.
type Advice struct {
	ID          string    `json:"id"`
	ContractID  string    `json:"contractId"`
	Text        string    `json:"text"`
	Fallback    bool      `json:"fallback"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Store persists advice records.
type Store interface {
	CreateAdvice(ctx context.Context, a *Advice) error
	ListAdvice(ctx context.Context, contractID string, limit int) ([]*Advice, error)
}
