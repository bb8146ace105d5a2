package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleCheckWallet returns the caller's balance.
func (h *Handlers) HandleCheckWallet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetWallet(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check wallet: %v", err)), nil
	}

	text, err := formatWallet(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse wallet: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleBrowseListings searches listings.
func (h *Handlers) HandleBrowseListings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListListings(ctx,
		req.GetString("crop_type", ""),
		req.GetString("location", ""),
		req.GetString("status", ""),
		req.GetInt("limit", 20),
	)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to browse listings: %v", err)), nil
	}

	text, err := formatListings(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse listings: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListContracts lists the caller's contracts.
func (h *Handlers) HandleListContracts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListContracts(ctx, req.GetString("status", ""), req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list contracts: %v", err)), nil
	}

	text, err := formatContracts(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse contracts: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleContractDashboard shows a contract's money position and milestones.
func (h *Handlers) HandleContractDashboard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("contract_id", "")
	if id == "" {
		return mcp.NewToolResultError("contract_id is required"), nil
	}

	raw, err := h.client.GetDashboard(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load contract: %v", err)), nil
	}

	text, err := formatDashboard(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse contract: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleProposeContract sends a buyer's offer.
func (h *Handlers) HandleProposeContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	listingID := req.GetString("listing_id", "")
	quantity := req.GetString("quantity", "")
	price := req.GetString("price_per_unit", "")
	if listingID == "" || quantity == "" || price == "" {
		return mcp.NewToolResultError("listing_id, quantity and price_per_unit are required"), nil
	}

	raw, err := h.client.ProposeContract(ctx, listingID, quantity, price, req.GetString("payment_terms", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Proposal failed: %v", err)), nil
	}

	c, err := extractObject(raw, "contract")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse contract: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Offer sent.\n"+
			"Contract ID: %s\n"+
			"Terms: %s x %s INR (%s payment)\n"+
			"Status: %s\n\n"+
			"No money has moved. The farmer's acceptance locks the full value in escrow.",
		getString(c, "id"), getString(c, "quantityProposed"), getString(c, "pricePerUnitAgreed"),
		getString(c, "paymentTerms"), getString(c, "status"))), nil
}

// HandleCounterOffer replaces the terms on the table.
func (h *Handlers) HandleCounterOffer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("contract_id", "")
	quantity := req.GetString("quantity", "")
	price := req.GetString("price_per_unit", "")
	if id == "" || quantity == "" || price == "" {
		return mcp.NewToolResultError("contract_id, quantity and price_per_unit are required"), nil
	}

	raw, err := h.client.CounterOffer(ctx, id, quantity, price)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Counter-offer failed: %v", err)), nil
	}

	c, err := extractObject(raw, "contract")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse contract: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Counter-offer sent on %s: %s x %s INR\nStatus: %s",
		id, getString(c, "quantityProposed"), getString(c, "pricePerUnitAgreed"), getString(c, "status"))), nil
}

var contractActions = map[string]string{
	"accept":   "accepted",
	"reject":   "rejected",
	"cancel":   "cancelled",
	"complete": "completed",
}

// HandleRespondToContract accepts, rejects, cancels or completes a contract.
func (h *Handlers) HandleRespondToContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("contract_id", "")
	if id == "" {
		return mcp.NewToolResultError("contract_id is required"), nil
	}
	action := req.GetString("action", "")
	past, ok := contractActions[action]
	if !ok {
		return mcp.NewToolResultError("action must be one of accept, reject, cancel, complete"), nil
	}

	raw, err := h.client.ContractAction(ctx, id, action)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Could not %s contract: %v", action, err)), nil
	}

	c, err := extractObject(raw, "contract")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse contract: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Contract %s %s.\nStatus: %s", id, past, getString(c, "status"))), nil
}

// HandleReleaseMilestone pays a completed milestone.
func (h *Handlers) HandleReleaseMilestone(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("milestone_id", "")
	if id == "" {
		return mcp.NewToolResultError("milestone_id is required"), nil
	}

	raw, err := h.client.ReleasePayment(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Release failed: %v", err)), nil
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse release: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Released %s INR for milestone %s.\n", getString(resp, "amountReleased"), id)
	if final, _ := resp["final"].(bool); final {
		sb.WriteString("That was the last milestone; the contract is complete.\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleSendMessage posts to a negotiation room.
func (h *Handlers) HandleSendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("contract_id", "")
	message := req.GetString("message", "")
	if id == "" || message == "" {
		return mcp.NewToolResultError("contract_id and message are required"), nil
	}

	raw, err := h.client.SendMessage(ctx, id, message,
		req.GetString("proposed_price", ""), req.GetString("proposed_quantity", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Message failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Message posted to contract %s.\n\n%s", id, formatJSON(raw))), nil
}

var fieldReadings = []struct{ arg, field string }{
	{"nitrogen", "nitrogen"},
	{"phosphorus", "phosphorus"},
	{"potassium", "potassium"},
	{"ph", "ph"},
	{"temperature", "temperature"},
	{"humidity", "humidity"},
	{"rainfall", "rainfall"},
	{"area_hectares", "areaHectares"},
}

// HandleRecommendCrops ranks crops for a field.
func (h *Handlers) HandleRecommendCrops(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := make(map[string]any)
	args := req.GetArguments()
	for _, r := range fieldReadings {
		if v, ok := args[r.arg].(float64); ok {
			params[r.field] = v
		}
	}

	raw, err := h.client.RecommendCrops(ctx, params, req.GetInt("top", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Recommendation failed: %v", err)), nil
	}

	text, err := formatRecommendations(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse recommendations: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleWeatherAdvice returns forecast-based farming advice.
func (h *Handlers) HandleWeatherAdvice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetWeather(ctx, req.GetFloat("latitude", 0), req.GetFloat("longitude", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Weather unavailable: %v", err)), nil
	}

	text, err := formatWeather(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse weather: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

func extractObject(raw json.RawMessage, key string) (map[string]any, error) {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	if obj, ok := resp[key].(map[string]any); ok {
		return obj, nil
	}
	return nil, fmt.Errorf("no %s in response: %s", key, string(raw))
}

func extractList(raw json.RawMessage, key string) ([]map[string]any, error) {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("unexpected %s response format", key)
	}
	var items []map[string]any
	if inner, ok := wrapper[key]; ok {
		if err := json.Unmarshal(inner, &items); err != nil {
			return nil, fmt.Errorf("unexpected %s response format", key)
		}
	}
	return items, nil
}

func formatWallet(raw json.RawMessage) (string, error) {
	w, err := extractObject(raw, "wallet")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Wallet %s\n  Balance: %s INR\n", getString(w, "id"), getString(w, "balance")), nil
}

func formatListings(raw json.RawMessage) (string, error) {
	listings, err := extractList(raw, "listings")
	if err != nil {
		return "", err
	}
	if len(listings) == 0 {
		return "No listings found matching your criteria.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d listing(s):\n\n", len(listings))
	for i, l := range listings {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, getString(l, "cropType"), getString(l, "id"))
		fmt.Fprintf(&sb, "   %s %s at %s INR/%s\n",
			getString(l, "quantity"), getString(l, "unit"), getString(l, "expectedPricePerUnit"), getString(l, "unit"))
		fmt.Fprintf(&sb, "   Harvest: %s | %s\n", getString(l, "harvestDate"), getString(l, "location"))
		if v := getString(l, "recommendedTemplate"); v != "" {
			fmt.Fprintf(&sb, "   Suggested terms: %s\n", v)
		}
		if i < len(listings)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func formatContracts(raw json.RawMessage) (string, error) {
	contracts, err := extractList(raw, "contracts")
	if err != nil {
		return "", err
	}
	if len(contracts) == 0 {
		return "No contracts found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d contract(s):\n\n", len(contracts))
	for i, c := range contracts {
		fmt.Fprintf(&sb, "%d. %s [%s]\n", i+1, getString(c, "id"), getString(c, "status"))
		fmt.Fprintf(&sb, "   %s x %s INR, %s payment, listing %s\n",
			getString(c, "quantityProposed"), getString(c, "pricePerUnitAgreed"),
			getString(c, "paymentTerms"), getString(c, "listingId"))
	}
	return sb.String(), nil
}

func formatDashboard(raw json.RawMessage) (string, error) {
	var d struct {
		Contract   map[string]any   `json:"contract"`
		Financials map[string]any   `json:"financials"`
		Milestones []map[string]any `json:"milestones"`
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return "", err
	}
	if d.Contract == nil {
		return "", fmt.Errorf("unexpected dashboard response format")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Contract %s [%s]\n", getString(d.Contract, "id"), getString(d.Contract, "status"))
	fmt.Fprintf(&sb, "  Terms: %s x %s INR (%s payment)\n",
		getString(d.Contract, "quantityProposed"), getString(d.Contract, "pricePerUnitAgreed"),
		getString(d.Contract, "paymentTerms"))
	if d.Financials != nil {
		fmt.Fprintf(&sb, "  Total value: %s INR\n", getString(d.Financials, "totalValue"))
		fmt.Fprintf(&sb, "  In escrow:   %s INR\n", getString(d.Financials, "escrowAmount"))
		fmt.Fprintf(&sb, "  Paid out:    %s INR\n", getString(d.Financials, "amountPaid"))
		fmt.Fprintf(&sb, "  Remaining:   %s INR\n", getString(d.Financials, "remainingToPay"))
	}
	if len(d.Milestones) > 0 {
		sb.WriteString("\nMilestones:\n")
		for _, m := range d.Milestones {
			state := "open"
			switch {
			case m["paymentReleased"] == true:
				state = "paid"
			case m["isComplete"] == true:
				state = "complete, awaiting release"
			}
			fmt.Fprintf(&sb, "  - %s (%s): %s INR, %s\n",
				getString(m, "name"), getString(m, "id"), getString(m, "amount"), state)
		}
	}
	return sb.String(), nil
}

func formatRecommendations(raw json.RawMessage) (string, error) {
	var resp struct {
		Source          string           `json:"source"`
		Recommendations []map[string]any `json:"recommendations"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Recommendations) == 0 {
		return "No crop recommendations.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Top %d crop(s) (%s):\n\n", len(resp.Recommendations), resp.Source)
	for i, r := range resp.Recommendations {
		score, _ := getFloat(r, "suitabilityScore")
		fmt.Fprintf(&sb, "%d. %s (%.0f%% suitable)\n", i+1, getString(r, "name"), score*100)
		if v := getString(r, "reason"); v != "" {
			fmt.Fprintf(&sb, "   %s\n", v)
		}
	}
	return sb.String(), nil
}

func formatWeather(raw json.RawMessage) (string, error) {
	var resp struct {
		Latitude          float64          `json:"latitude"`
		Longitude         float64          `json:"longitude"`
		Insights          []map[string]any `json:"insights"`
		CurrentConditions map[string]any   `json:"currentConditions"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Weather at %.2f, %.2f\n", resp.Latitude, resp.Longitude)
	if c := resp.CurrentConditions; c != nil {
		temp, _ := getFloat(c, "temperature")
		hum, _ := getFloat(c, "humidity")
		fmt.Fprintf(&sb, "  Now: %.1fC, %.0f%% humidity", temp, hum)
		if v := getString(c, "description"); v != "" {
			fmt.Fprintf(&sb, ", %s", v)
		}
		sb.WriteString("\n")
	}
	for _, in := range resp.Insights {
		fmt.Fprintf(&sb, "\n[%s] %s\n  Action: %s\n", getString(in, "type"), getString(in, "insight"), getString(in, "action"))
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
