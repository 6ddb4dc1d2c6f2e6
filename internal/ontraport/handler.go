package ontraport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Handler exposes the Ontraport workflows as MCP tools.
type Handler struct {
	client *Client
}

// NewHandler wraps a configured client.
func NewHandler(client *Client) *Handler {
	if client == nil {
		return nil
	}
	return &Handler{client: client}
}

// Client returns the underlying API client.
func (h *Handler) Client() *Client {
	return h.client
}

// SetupTools registers all Ontraport tools with the MCP server.
func (h *Handler) SetupTools(s *server.MCPServer) {
	h.setupValidateKeys(s)
	h.setupLogTransaction(s)
	h.setupTagContact(s)
	h.setupFindTool(s, "ontraport_find_contact", "Look up a Contact id by email address", KindContact)
	h.setupFindTool(s, "ontraport_find_product", "Look up a Product id by product name", KindProduct)
	h.setupFindTool(s, "ontraport_find_tag", "Look up a Tag id by tag name", KindTag)
}

func (h *Handler) setupValidateKeys(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("ontraport_validate_keys",
		mcp.WithDescription("Check that the configured App ID and API key are accepted by Ontraport"),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		valid, err := h.client.ValidateKeys(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Validation failed: %v", err)), nil
		}

		return jsonResult(map[string]any{
			"valid": valid,
		}), nil
	})
}

func (h *Handler) setupLogTransaction(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("ontraport_log_transaction",
		mcp.WithDescription("Record a completed purchase: resolves the Product and Contact (creating them if absent) and logs the transaction"),
		mcp.WithString("email", mcp.Required(), mcp.Description("Customer email address")),
		mcp.WithString("firstname", mcp.Description("Customer first name")),
		mcp.WithString("lastname", mcp.Description("Customer last name")),
		mcp.WithString("phone", mcp.Description("Customer phone number")),
		mcp.WithString("address1", mcp.Description("Billing address line 1")),
		mcp.WithString("address2", mcp.Description("Billing address line 2")),
		mcp.WithString("city", mcp.Description("Billing city")),
		mcp.WithString("state", mcp.Description("Billing state/province")),
		mcp.WithString("postcode", mcp.Description("Billing postal code")),
		mcp.WithString("country", mcp.Description("Billing country")),
		mcp.WithString("product", mcp.Required(), mcp.Description("Product display name")),
		mcp.WithNumber("price", mcp.Required(), mcp.Description("Unit price")),
		mcp.WithNumber("quantity", mcp.Required(), mcp.Description("Quantity purchased")),
		mcp.WithNumber("total", mcp.Description("Order total")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params, err := parseParams[LogTransactionParams](request.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError("invalid arguments format"), nil
		}
		if params.Email == "" || params.Product == "" {
			return mcp.NewToolResultError("email and product are required"), nil
		}

		purchase := Purchase{
			Product:  params.Product,
			Price:    params.Price,
			Quantity: int(params.Quantity),
			Total:    params.Total,
		}

		if err := h.client.LogTransaction(ctx, params.Customer(), purchase); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Transaction failed: %v", err)), nil
		}

		return jsonResult(map[string]any{
			"success": true,
			"email":   params.Email,
			"product": params.Product,
		}), nil
	})
}

func (h *Handler) setupTagContact(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("ontraport_tag_contact",
		mcp.WithDescription("Apply a tag to a customer's Contact, creating the Contact and Tag if absent"),
		mcp.WithString("email", mcp.Required(), mcp.Description("Customer email address")),
		mcp.WithString("firstname", mcp.Description("Customer first name")),
		mcp.WithString("lastname", mcp.Description("Customer last name")),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag name to apply")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params, err := parseParams[TagContactParams](request.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError("invalid arguments format"), nil
		}
		if params.Email == "" || params.Tag == "" {
			return mcp.NewToolResultError("email and tag are required"), nil
		}

		if err := h.client.TagContact(ctx, params.Customer(), params.Tag); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Tagging failed: %v", err)), nil
		}

		return jsonResult(map[string]any{
			"success": true,
			"email":   params.Email,
			"tag":     params.Tag,
		}), nil
	})
}

func (h *Handler) setupFindTool(s *server.MCPServer, name, description string, kind Kind) {
	s.AddTool(mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithString("key", mcp.Required(), mcp.Description("Natural key to look up")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params, err := parseParams[FindParams](request.Params.Arguments)
		if err != nil || params.Key == "" {
			return mcp.NewToolResultError("key parameter is required"), nil
		}

		id, found, err := h.client.Find(ctx, kind, params.Key)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Lookup failed: %v", err)), nil
		}

		result := map[string]any{
			"found": found,
			"key":   params.Key,
		}
		if found {
			result["id"] = id
		}
		return jsonResult(result), nil
	})
}

func jsonResult(v any) *mcp.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(data),
			},
		},
	}
}
