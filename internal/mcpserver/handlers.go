package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const defaultListLimit = 20

// idKeys maps each resource to the JSON key of its records' id.
var idKeys = map[string]string{
	"agents":      "id",
	"plugins":     "plugin_id",
	"datasources": "source_id",
	"knowledge":   "kb_id",
	"workflows":   "workflow_id",
	"providers":   "name",
}

// Handlers implements the MCP tools on top of Client.
type Handlers struct {
	client *Client
}

// NewHandlers creates the tool handlers.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleListResources lists or searches a registry.
func (h *Handlers) HandleListResources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, errResult := requireResource(req)
	if errResult != nil {
		return errResult, nil
	}
	f := ListFilter{
		Status: req.GetString("status", ""),
		Query:  req.GetString("query", ""),
		Limit:  req.GetInt("limit", defaultListLimit),
		Extra:  stringMap(req.GetArguments()["filters"]),
	}
	raw, err := h.client.List(ctx, resource, f)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list %s: %v", resource, err)), nil
	}
	text, err := formatRecords(raw, resource, f.Limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse %s: %v", resource, err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetResource returns one record as indented JSON.
func (h *Handlers) HandleGetResource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, errResult := requireResource(req)
	if errResult != nil {
		return errResult, nil
	}
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	raw, err := h.client.Get(ctx, resource, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get %s %s: %v", resource, id, err)), nil
	}
	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// HandleRegistryStats summarizes a registry by status.
func (h *Handlers) HandleRegistryStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, errResult := requireResource(req)
	if errResult != nil {
		return errResult, nil
	}
	raw, err := h.client.Stats(ctx, resource)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get %s stats: %v", resource, err)), nil
	}
	var resp struct {
		Stats map[string]any `json:"stats"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse stats: %v", err)), nil
	}
	keys := make([]string, 0, len(resp.Stats))
	for k := range resp.Stats {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:\n", resource)
	for _, k := range keys {
		fmt.Fprintf(&sb, "  %s: %v\n", k, resp.Stats[k])
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleWorkflowOrder prints a workflow's node order.
func (h *Handlers) HandleWorkflowOrder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("workflow_id", "")
	if id == "" {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	raw, err := h.client.WorkflowOrder(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to order workflow %s: %v", id, err)), nil
	}
	var resp struct {
		Order []string `json:"order"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse order: %v", err)), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Workflow %s runs %d node(s):\n", id, len(resp.Order))
	for i, node := range resp.Order {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, node)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleFetchData routes a data request.
func (h *Handlers) HandleFetchData(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	op := req.GetString("operation", "")
	if op == "" {
		return mcp.NewToolResultError("operation is required"), nil
	}
	args := req.GetArguments()
	params, _ := args["params"].(map[string]any)
	raw, err := h.client.Fetch(ctx, op, params, req.GetString("market", ""), stringSlice(args["preferred"]))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Fetch failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// HandleListDocuments lists the documents of a knowledge base.
func (h *Handlers) HandleListDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kbID := req.GetString("knowledge_base_id", "")
	if kbID == "" {
		return mcp.NewToolResultError("knowledge_base_id is required"), nil
	}
	raw, err := h.client.ListDocuments(ctx, kbID, req.GetString("status", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list documents: %v", err)), nil
	}
	var resp struct {
		Documents []map[string]any `json:"documents"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse documents: %v", err)), nil
	}
	if len(resp.Documents) == 0 {
		return mcp.NewToolResultText("No documents found."), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d document(s) in %s:\n\n", len(resp.Documents), kbID)
	for i, d := range resp.Documents {
		fmt.Fprintf(&sb, "%d. %s [%s] (%s)\n", i+1, getString(d, "title"), getString(d, "status"), getString(d, "document_id"))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleStartAgent creates an agent instance.
func (h *Handlers) HandleStartAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("agent_id is required"), nil
	}
	config, _ := req.GetArguments()["config"].(map[string]any)
	raw, err := h.client.CreateInstance(ctx, agentID, req.GetString("name", ""), config)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start agent %s: %v", agentID, err)), nil
	}
	var resp struct {
		Instance map[string]any `json:"instance"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Instance == nil {
		return mcp.NewToolResultText(formatJSON(raw)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Instance %s of %s is %s.",
		getString(resp.Instance, "instance_id"), agentID, getString(resp.Instance, "status"))), nil
}

// HandleCurrentTenant shows the configured tenant.
func (h *Handlers) HandleCurrentTenant(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.CurrentTenant(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get tenant: %v", err)), nil
	}
	var resp struct {
		Tenant map[string]any `json:"tenant"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Tenant == nil {
		return mcp.NewToolResultError("unexpected tenant response"), nil
	}
	t := resp.Tenant
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tenant %s (%s)\n", getString(t, "tenant_id"), getString(t, "name"))
	fmt.Fprintf(&sb, "  Tier: %s, status: %s\n", getString(t, "tier"), getString(t, "status"))
	fmt.Fprintf(&sb, "  Max users: %s, API calls/day: %s\n", getString(t, "max_users"), getString(t, "max_api_calls_per_day"))
	if features := stringSlice(t["features"]); len(features) > 0 {
		fmt.Fprintf(&sb, "  Features: %s\n", strings.Join(features, ", "))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func requireResource(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	resource := req.GetString("resource", "")
	if !slices.Contains(resources, resource) {
		return "", mcp.NewToolResultError("resource must be one of " + strings.Join(resources, ", "))
	}
	return resource, nil
}

func formatRecords(raw json.RawMessage, resource string, limit int) (string, error) {
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	var records []map[string]any
	if err := json.Unmarshal(resp[resource], &records); err != nil {
		return "", fmt.Errorf("unexpected %s response format", resource)
	}
	if len(records) == 0 {
		return fmt.Sprintf("No %s found.", resource), nil
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d %s:\n\n", len(records), resource)
	for i, r := range records {
		fmt.Fprintf(&sb, "%d. %s", i+1, getString(r, idKeys[resource]))
		if name := getString(r, "display_name", "name"); name != "" && name != getString(r, idKeys[resource]) {
			fmt.Fprintf(&sb, " (%s)", name)
		}
		if status := getString(r, "status"); status != "" {
			fmt.Fprintf(&sb, " [%s]", status)
		}
		sb.WriteString("\n")
		if desc := getString(r, "description"); desc != "" {
			fmt.Fprintf(&sb, "   %s\n", desc)
		}
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

// getString returns the first key present as a string; numbers are
// formatted with %g.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%g", v)
		}
	}
	return ""
}

func stringSlice(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stringMap(v any) map[string]string {
	m, _ := v.(map[string]any)
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = fmt.Sprint(val)
	}
	return out
}
