package advisory

import (
	"fmt"
	"strings"
)

// templateCatalogue is the set of templates the recommender may choose from.
const templateCatalogue = `1. Simple Supply Contract: fixed quantity and price, full payment on delivery. Easy to understand; the farmer carries the payment risk until the end.
2. Milestone Payment Contract: payment released in stages (sowing, flowering, harvest, delivery). Steady cash flow for the farmer; needs progress evidence.
3. Forward Price Contract: price locked before sowing. Protects the farmer from price falls; gives up upside if the market rises.
4. Quality-Linked Contract: base price plus a bonus for meeting grade standards. Rewards good practice; grading disputes are possible.
5. Input-Supply Contract: buyer provides seeds and inputs, deducted from the final payment. Lowers upfront cost; creates a debt to the buyer.`

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Not specified"
	}
	return s
}

func compliancePrompt(s Snapshot) string {
	notes := s.LatestNotes
	if notes == "" {
		notes = "No milestone notes yet."
	}
	return fmt.Sprintf(`You are an agricultural compliance advisor for contract farming in India.
Review the contract below and give the farmer 3 short, practical points: what to do next to stay compliant, any payment risk, and one quality tip.

Contract:
- Crop: %s
- Status: %s
- Total value: %s INR
- Paid so far: %s INR
- Held in escrow: %s INR
- Remaining to be paid: %s INR

Latest field notes:
%s

Write in simple language. No legal jargon.`,
		orUnknown(s.CropType), s.Status, s.TotalValue, s.AmountPaid, s.EscrowAmount, s.RemainingToPay, notes)
}

func summaryPrompt(b ContractBrief) string {
	return fmt.Sprintf(`You help small-scale farmers in India understand their contracts.
Summarize the contract below in a simple 2-3 sentence paragraph. Focus on what the farmer must deliver and what they will be paid.

- Crop: %s
- Quantity: %s %s
- Agreed price: %s INR per %s
- Total value: %s INR
- Payment terms: %s
- Buyer: %s
- Farmer: %s`,
		orUnknown(b.CropType), b.Quantity, b.Unit, b.PricePerUnit, orUnknown(b.Unit),
		b.TotalValue, b.PaymentTerms, orUnknown(b.BuyerName), orUnknown(b.FarmerName))
}

func templatePrompt(l ListingBrief, totalValue string) string {
	return fmt.Sprintf(`You advise small-scale farmers in India on contract farming agreements. Protect the farmer's interests.

Available contract templates:
%s

Recommend the single best template for this listing. The estimated deal value is %s INR.

- Crop: %s
- Quantity: %s %s
- Expected price: %s INR per unit
- Farming practice: %s
- Location: %s
- Soil type: %s

Respond with a JSON object with exactly two keys: "template_name" (the full template name) and "reason" (one sentence written to the farmer).`,
		templateCatalogue, totalValue, l.CropType, l.Quantity, l.Unit, l.ExpectedPricePerUnit,
		orUnknown(l.FarmingPractice), orUnknown(l.Location), orUnknown(l.SoilType))
}

func proposalsPrompt(l ListingBrief, proposals []ProposalBrief) string {
	var sb strings.Builder
	for i, p := range proposals {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Proposal ID: %s\n  - Buyer: %s\n  - Price: %s INR per %s\n  - Quantity: %s %s\n  - Total value: %s INR\n  - Payment terms: %s",
			p.ContractID, p.BuyerID, p.PricePerUnit, l.Unit, p.Quantity, l.Unit, p.TotalValue, p.PaymentTerms)
	}
	return fmt.Sprintf(`You are 'Sahayak', a farm advisor in India. Help the farmer choose the most beneficial proposal.

Original listing:
- Crop: %s
- Quantity: %s %s
- Asking price: %s INR per %s

Proposals received:
%s

Compare total value, price per unit and payment terms. Respond with a JSON object with exactly two keys: "best_proposal_id" (the proposal ID string) and "reason" (two simple sentences to the farmer).`,
		l.CropType, l.Quantity, l.Unit, l.ExpectedPricePerUnit, l.Unit, sb.String())
}

// stripFences removes markdown code fences models like to wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
