package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool descriptions are what the model reads when choosing a tool.

var resources = []string{"agents", "plugins", "datasources", "knowledge", "workflows", "providers"}

var ToolListResources = mcp.NewTool("list_resources",
	mcp.WithDescription(
		"List records of one platform registry: agent definitions, plugins, data sources, "+
			"knowledge bases, workflows or LLM providers. Only records visible to the configured "+
			"tenant are returned. Pass query for a free-text search over names, descriptions and tags."),
	mcp.WithString("resource",
		mcp.Required(),
		mcp.Description("Registry to list"),
		mcp.Enum(resources...)),
	mcp.WithString("status",
		mcp.Description("Only records in this lifecycle status (e.g. 'active', 'inactive')")),
	mcp.WithString("query",
		mcp.Description("Free-text search; ignores status and filters")),
	mcp.WithObject("filters",
		mcp.Description("Index filters, e.g. {\"capability\": \"analysis\"} for agents or {\"market\": \"cn\"} for data sources")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of records (default 20)")),
)

var ToolGetResource = mcp.NewTool("get_resource",
	mcp.WithDescription("Fetch one registry record by id with its full configuration."),
	mcp.WithString("resource",
		mcp.Required(),
		mcp.Description("Registry the record belongs to"),
		mcp.Enum(resources...)),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Record id, e.g. 'stock_analyst'")),
)

var ToolRegistryStats = mcp.NewTool("registry_stats",
	mcp.WithDescription("Count the visible records of a registry by status."),
	mcp.WithString("resource",
		mcp.Required(),
		mcp.Description("Registry to summarize"),
		mcp.Enum(resources...)),
)

var ToolWorkflowOrder = mcp.NewTool("workflow_order",
	mcp.WithDescription(
		"Show the order in which a workflow's nodes run. Dependencies always come first; "+
			"independent nodes keep their declaration order."),
	mcp.WithString("workflow_id",
		mcp.Required(),
		mcp.Description("Workflow id")),
)

var ToolFetchData = mcp.NewTool("fetch_data",
	mcp.WithDescription(
		"Run a data operation (e.g. 'daily_bars') against the best available data source. "+
			"Sources are tried by priority and fall back on failure."),
	mcp.WithString("operation",
		mcp.Required(),
		mcp.Description("Operation name understood by the data source adapters")),
	mcp.WithObject("params",
		mcp.Description("Operation parameters, e.g. {\"symbol\": \"600519\"}")),
	mcp.WithString("market",
		mcp.Description("Restrict to sources serving this market")),
	mcp.WithArray("preferred",
		mcp.Description("Source ids to try first"),
		mcp.WithStringItems()),
)

var ToolListDocuments = mcp.NewTool("list_documents",
	mcp.WithDescription("List the documents stored in a knowledge base for the configured tenant."),
	mcp.WithString("knowledge_base_id",
		mcp.Required(),
		mcp.Description("Knowledge base id")),
	mcp.WithString("status",
		mcp.Description("Indexing status filter"),
		mcp.Enum("pending", "indexed", "failed")),
)

var ToolStartAgent = mcp.NewTool("start_agent",
	mcp.WithDescription("Create and start a new instance of an agent definition."),
	mcp.WithString("agent_id",
		mcp.Required(),
		mcp.Description("Agent definition id")),
	mcp.WithString("name",
		mcp.Description("Instance name; defaults to the agent's name")),
	mcp.WithObject("config",
		mcp.Description("Configuration merged over the agent's defaults")),
)

var ToolCurrentTenant = mcp.NewTool("current_tenant",
	mcp.WithDescription("Show the configured tenant: tier, status, quotas and enabled features."),
)
