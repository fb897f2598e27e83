package schema

import "strings"

// subtypesByType is the closed enumeration of valid (type, subtype) pairs.
// Keeping the table closed means a typo in a definition fails validation
// instead of silently degrading to passthrough behavior at dispatch time.
var subtypesByType = map[NodeType][]string{
	NodeTypeTrigger: {TriggerSubtypeManual, TriggerSubtypeWebhook, TriggerSubtypeCron, TriggerSubtypeEvent},
	NodeTypeFlow: {
		FlowSubtypeIf, FlowSubtypeSwitch, FlowSubtypeMerge, FlowSubtypeSplit,
		FlowSubtypeFilter, FlowSubtypeSort, FlowSubtypeLoop, FlowSubtypeForEach,
		FlowSubtypeWait, FlowSubtypeDelay, FlowSubtypeTimeout,
	},
	NodeTypeAction:         {ActionSubtypeHTTPRequest, ActionSubtypeRunCode, ActionSubtypeTransform},
	NodeTypeExternalAction: {ExternalSubtypeSlack, ExternalSubtypeGitHub, ExternalSubtypeNotion, ExternalSubtypeGoogleCalendar, ExternalSubtypeDiscord, ExternalSubtypeEmail, ExternalSubtypeFirecrawl, ExternalSubtypeHTTP},
	NodeTypeMemory:         {MemorySubtypeConversationBuffer, MemorySubtypeVectorDatabase, MemorySubtypeKeyValue},
	NodeTypeTool:           {ToolSubtypeMCP, ToolSubtypeHTTP, ToolSubtypeFunction},
	NodeTypeAIAgent:        {AgentSubtypeOpenAI, AgentSubtypeAnthropic, AgentSubtypeGoogle},
	NodeTypeHumanInLoop:    {HILSubtypeSlack, HILSubtypeEmail, HILSubtypeWebhook, HILSubtypeInApp},
}

// ValidateNode checks identity and the (type, subtype) pair against the
// closed enumeration.
func ValidateNode(n *Node) error {
	if n == nil {
		return NewError(ErrCodeValidation, "node is nil")
	}
	if n.ID == "" {
		return NewError(ErrCodeValidation, "node id is empty")
	}
	allowed, ok := subtypesByType[n.Type]
	if !ok {
		return NewErrorf(ErrCodeValidation, "unknown node type %q", n.Type).WithNode(n.ID)
	}
	if n.Subtype == "" {
		return NewErrorf(ErrCodeValidation, "node subtype is empty for type %s", n.Type).WithNode(n.ID)
	}
	for _, s := range allowed {
		if s == n.Subtype {
			return nil
		}
	}
	return NewErrorf(ErrCodeValidation,
		"unknown subtype %q for type %s; valid: %s", n.Subtype, n.Type, strings.Join(allowed, ", ")).
		WithNode(n.ID)
}

// KnownSubtypes returns the valid subtypes for a node type, nil for unknown
// types.
func KnownSubtypes(t NodeType) []string {
	subtypes, ok := subtypesByType[t]
	if !ok {
		return nil
	}
	out := make([]string, len(subtypes))
	copy(out, subtypes)
	return out
}
