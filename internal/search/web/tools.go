package web

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/research-agent/backend/internal/llm"
)

const (
	ToolSearch   = "search"
	ToolRetrieve = "retrieve"
)

var searchSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "The query to search for"},
    "max_results": {"type": "integer", "description": "Maximum number of results to return, default 5"}
  },
  "required": ["query"]
}`)

var retrieveSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "url": {"type": "string", "description": "The URL to retrieve content from"}
  },
  "required": ["url"]
}`)

type SearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type RetrieveArgs struct {
	URL string `json:"url"`
}

// ToolResult is the payload returned to the model and streamed as the tool
// result frame.
type ToolResult struct {
	Tool    string   `json:"tool"`
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

func (c *Client) Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{Name: ToolSearch, Description: "Search the web for current information", Parameters: searchSchema},
		{Name: ToolRetrieve, Description: "Retrieve the readable content of a specific URL", Parameters: retrieveSchema},
	}
}

func (c *Client) Execute(ctx context.Context, name, arguments string) (*ToolResult, error) {
	switch name {
	case ToolSearch:
		var args SearchArgs
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return nil, fmt.Errorf("invalid search arguments: %w", err)
		}
		results, err := c.Search(ctx, args.Query, args.MaxResults)
		if err != nil {
			return nil, err
		}
		return &ToolResult{Tool: name, Query: args.Query, Results: results}, nil

	case ToolRetrieve:
		var args RetrieveArgs
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return nil, fmt.Errorf("invalid retrieve arguments: %w", err)
		}
		r, err := c.Retrieve(ctx, args.URL)
		if err != nil {
			return nil, err
		}
		return &ToolResult{Tool: name, Query: args.URL, Results: []Result{r}}, nil

	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}
