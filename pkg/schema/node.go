package schema

import "time"

// NodeType is the closed set of node kinds a workflow definition may contain.
type NodeType string

const (
	NodeTypeTrigger        NodeType = "TRIGGER"
	NodeTypeFlow           NodeType = "FLOW"
	NodeTypeAction         NodeType = "ACTION"
	NodeTypeExternalAction NodeType = "EXTERNAL_ACTION"
	NodeTypeMemory         NodeType = "MEMORY"
	NodeTypeTool           NodeType = "TOOL"
	NodeTypeAIAgent        NodeType = "AI_AGENT"
	NodeTypeHumanInLoop    NodeType = "HUMAN_IN_THE_LOOP"
)

// Flow subtypes.
const (
	FlowSubtypeIf      = "IF"
	FlowSubtypeSwitch  = "SWITCH"
	FlowSubtypeMerge   = "MERGE"
	FlowSubtypeSplit   = "SPLIT"
	FlowSubtypeFilter  = "FILTER"
	FlowSubtypeSort    = "SORT"
	FlowSubtypeLoop    = "LOOP"
	FlowSubtypeForEach = "FOR_EACH"
	FlowSubtypeWait    = "WAIT"
	FlowSubtypeDelay   = "DELAY"
	FlowSubtypeTimeout = "TIMEOUT"
)

// Trigger subtypes.
const (
	TriggerSubtypeManual  = "MANUAL"
	TriggerSubtypeWebhook = "WEBHOOK"
	TriggerSubtypeCron    = "CRON"
	TriggerSubtypeEvent   = "EVENT"
)

// AI agent subtypes (one per model family; all share one orchestrator).
const (
	AgentSubtypeOpenAI    = "OPENAI_CHATGPT"
	AgentSubtypeAnthropic = "ANTHROPIC_CLAUDE"
	AgentSubtypeGoogle    = "GOOGLE_GEMINI"
)

// Memory subtypes.
const (
	MemorySubtypeConversationBuffer = "CONVERSATION_BUFFER"
	MemorySubtypeVectorDatabase     = "VECTOR_DATABASE"
	MemorySubtypeKeyValue           = "KEY_VALUE"
)

// Tool subtypes.
const (
	ToolSubtypeMCP      = "MCP"
	ToolSubtypeHTTP     = "HTTP"
	ToolSubtypeFunction = "FUNCTION"
)

// HIL subtypes mirror the supported channels.
const (
	HILSubtypeSlack   = "SLACK"
	HILSubtypeEmail   = "EMAIL"
	HILSubtypeWebhook = "WEBHOOK"
	HILSubtypeInApp   = "IN_APP"
)

// External action subtypes.
const (
	ExternalSubtypeSlack          = "SLACK"
	ExternalSubtypeGitHub         = "GITHUB"
	ExternalSubtypeNotion         = "NOTION"
	ExternalSubtypeGoogleCalendar = "GOOGLE_CALENDAR"
	ExternalSubtypeDiscord        = "DISCORD"
	ExternalSubtypeEmail          = "EMAIL"
	ExternalSubtypeFirecrawl      = "FIRECRAWL"
	ExternalSubtypeHTTP           = "HTTP"
)

// Action subtypes.
const (
	ActionSubtypeHTTPRequest = "HTTP_REQUEST"
	ActionSubtypeRunCode     = "RUN_CODE"
	ActionSubtypeTransform   = "TRANSFORM"
)

// Node is a single vertex of a workflow definition. Immutable once the
// workflow is defined; executions reference nodes, they never own them.
type Node struct {
	ID              string         `json:"id"`
	Name            string         `json:"name,omitempty"`
	Type            NodeType       `json:"type"`
	Subtype         string         `json:"subtype"`
	Config          map[string]any `json:"config,omitempty"`
	AttachedNodeIDs []string       `json:"attached_nodes,omitempty"`
}

// Trigger is the event that started an execution. Read-only during execution.
type Trigger struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}
