package utility

import (
	"context"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/zjregee/deepthread/internal/service/tools"
)

const (
	CurrentTimeToolName        = "get_current_time"
	CurrentTimeToolDescription = "Returns the current date and time, optionally in an IANA time zone such as Europe/Paris."

	CalculateToolName        = "calculate"
	CalculateToolDescription = "Evaluates an arithmetic expression using numbers, parentheses and + - * / %."

	KnowledgeBaseToolName        = "search_knowledge_base"
	KnowledgeBaseToolDescription = "Searches the built-in knowledge base for short reference entries."

	SentimentToolName        = "analyze_sentiment"
	SentimentToolDescription = "Classifies the sentiment of a text as positive, negative or neutral."
)

type CurrentTimeParams struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=Optional IANA time zone name. Defaults to local time."`
}

type CalculateParams struct {
	Expression string `json:"expression" jsonschema:"description=The expression to evaluate, e.g. (2 + 3) * 4."`
}

type KnowledgeBaseParams struct {
	Query string `json:"query" jsonschema:"description=The search query."`
}

type SentimentParams struct {
	Text string `json:"text" jsonschema:"description=The text to analyze."`
}

func GetCurrentTimeTool(ctx context.Context, _ *tools.Env) (*schema.ToolInfo, tool.InvokableTool, error) {
	return tools.InferTool(ctx, CurrentTimeToolName, CurrentTimeToolDescription, CurrentTime)
}

func GetCalculateTool(ctx context.Context, _ *tools.Env) (*schema.ToolInfo, tool.InvokableTool, error) {
	return tools.InferTool(ctx, CalculateToolName, CalculateToolDescription, Calculate)
}

func GetKnowledgeBaseTool(ctx context.Context, _ *tools.Env) (*schema.ToolInfo, tool.InvokableTool, error) {
	return tools.InferTool(ctx, KnowledgeBaseToolName, KnowledgeBaseToolDescription, SearchKnowledgeBase)
}

func GetSentimentTool(ctx context.Context, _ *tools.Env) (*schema.ToolInfo, tool.InvokableTool, error) {
	return tools.InferTool(ctx, SentimentToolName, SentimentToolDescription, AnalyzeSentiment)
}

func init() {
	tools.RegisterTool(CurrentTimeToolName, GetCurrentTimeTool)
	tools.RegisterTool(CalculateToolName, GetCalculateTool)
	tools.RegisterTool(KnowledgeBaseToolName, GetKnowledgeBaseTool)
	tools.RegisterTool(SentimentToolName, GetSentimentTool)
}
