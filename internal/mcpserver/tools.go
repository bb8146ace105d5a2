package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the KrishiConnect MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCheckWallet = mcp.NewTool("check_wallet",
	mcp.WithDescription(
		"Check your KrishiConnect wallet balance in INR. "+
			"Buyers need enough balance to fund escrow when a farmer accepts their offer."),
)

var ToolBrowseListings = mcp.NewTool("browse_listings",
	mcp.WithDescription(
		"Search crop listings posted by farmers. "+
			"Returns crop, quantity, expected price per unit, harvest date and location."),
	mcp.WithString("crop_type",
		mcp.Description("Filter by crop (e.g. 'Wheat', 'Soybean')")),
	mcp.WithString("location",
		mcp.Description("Filter by location text (e.g. 'Madhya Pradesh')")),
	mcp.WithString("status",
		mcp.Description("Listing status; defaults to active listings"),
		mcp.Enum("active", "closed")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of listings to return (default 20)")),
)

var ToolListContracts = mcp.NewTool("list_contracts",
	mcp.WithDescription(
		"List the contracts you are a party to, newest first."),
	mcp.WithString("status",
		mcp.Description("Filter by contract status"),
		mcp.Enum("pending_farmer_approval", "negotiating", "ongoing", "completed", "rejected", "cancelled")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of contracts to return (default 20)")),
)

var ToolContractDashboard = mcp.NewTool("contract_dashboard",
	mcp.WithDescription(
		"Show a contract with its escrow position (total value, escrowed, released, remaining) "+
			"and every milestone with its completion and payment state."),
	mcp.WithString("contract_id",
		mcp.Required(),
		mcp.Description("The contract ID (e.g. 'ctr_...')")),
)

var ToolProposeContract = mcp.NewTool("propose_contract",
	mcp.WithDescription(
		"As a buyer, offer to buy from a listing. "+
			"No money moves until the farmer accepts; acceptance locks the full value in escrow."),
	mcp.WithString("listing_id",
		mcp.Required(),
		mcp.Description("The listing ID (e.g. 'lst_...')")),
	mcp.WithString("quantity",
		mcp.Required(),
		mcp.Description("Quantity in the listing's unit (e.g. '20')")),
	mcp.WithString("price_per_unit",
		mcp.Required(),
		mcp.Description("Offered price per unit in INR (e.g. '2150.00')")),
	mcp.WithString("payment_terms",
		mcp.Description("'final' pays everything on completion; 'milestone' pays per milestone"),
		mcp.Enum("final", "milestone")),
)

var ToolCounterOffer = mcp.NewTool("counter_offer",
	mcp.WithDescription(
		"Replace the terms on the table with your own. "+
			"The other party must then accept, reject or counter."),
	mcp.WithString("contract_id",
		mcp.Required(),
		mcp.Description("The contract ID")),
	mcp.WithString("quantity",
		mcp.Required(),
		mcp.Description("Counter quantity")),
	mcp.WithString("price_per_unit",
		mcp.Required(),
		mcp.Description("Counter price per unit in INR")),
)

var ToolRespondToContract = mcp.NewTool("respond_to_contract",
	mcp.WithDescription(
		"Move a contract forward. 'accept' agrees to the other party's latest offer and funds escrow. "+
			"'reject' or 'cancel' (buyer) ends negotiation before escrow is funded. "+
			"'complete' (farmer, final terms) pays out the escrow."),
	mcp.WithString("contract_id",
		mcp.Required(),
		mcp.Description("The contract ID")),
	mcp.WithString("action",
		mcp.Required(),
		mcp.Description("What to do with the contract"),
		mcp.Enum("accept", "reject", "cancel", "complete")),
)

var ToolReleaseMilestone = mcp.NewTool("release_milestone",
	mcp.WithDescription(
		"As a buyer, pay a completed milestone out of escrow to the farmer. "+
			"Releasing the last milestone completes the contract."),
	mcp.WithString("milestone_id",
		mcp.Required(),
		mcp.Description("The milestone ID (e.g. 'ms_...')")),
)

var ToolSendMessage = mcp.NewTool("send_negotiation_message",
	mcp.WithDescription(
		"Post a message in a contract's negotiation room. "+
			"Both parties see it live; a proposed price or quantity is informational until countered."),
	mcp.WithString("contract_id",
		mcp.Required(),
		mcp.Description("The contract ID")),
	mcp.WithString("message",
		mcp.Required(),
		mcp.Description("Message text")),
	mcp.WithString("proposed_price",
		mcp.Description("Optional price per unit being floated")),
	mcp.WithString("proposed_quantity",
		mcp.Description("Optional quantity being floated")),
)

var ToolRecommendCrops = mcp.NewTool("recommend_crops",
	mcp.WithDescription(
		"Rank crops for a field from soil and climate readings. "+
			"Leave out readings you do not have."),
	mcp.WithNumber("nitrogen", mcp.Description("Soil nitrogen, kg/ha")),
	mcp.WithNumber("phosphorus", mcp.Description("Soil phosphorus, kg/ha")),
	mcp.WithNumber("potassium", mcp.Description("Soil potassium, kg/ha")),
	mcp.WithNumber("ph", mcp.Description("Soil pH, 0 to 14")),
	mcp.WithNumber("temperature", mcp.Description("Average temperature, Celsius")),
	mcp.WithNumber("humidity", mcp.Description("Relative humidity, percent")),
	mcp.WithNumber("rainfall", mcp.Description("Seasonal rainfall, mm")),
	mcp.WithNumber("area_hectares", mcp.Description("Field area in hectares")),
	mcp.WithNumber("top", mcp.Description("How many crops to return (default 5)")),
)

var ToolWeatherAdvice = mcp.NewTool("weather_advice",
	mcp.WithDescription(
		"Get farming advice from the next 48 hours of forecast: spraying windows, "+
			"rain, disease risk and irrigation."),
	mcp.WithNumber("latitude", mcp.Description("Latitude; omit for the server default")),
	mcp.WithNumber("longitude", mcp.Description("Longitude; omit for the server default")),
)
