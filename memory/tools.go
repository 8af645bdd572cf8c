package memory

import (
	"strings"

	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/tool"
)

// FormatFacts renders a namespace as "- key: value" lines sorted by key. An
// empty namespace renders as the empty string.
func FormatFacts(ns core.MemoryNamespace) string {
	records := ns.Records()
	if len(records) == 0 {
		return ""
	}

	var b strings.Builder
	for i, rec := range records {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(rec.Key)
		b.WriteString(": ")
		b.WriteString(rec.Value)
	}
	return b.String()
}

// NewLoadMemoryTool exposes the calling session's saved facts to the model.
// The tool reads through the session's memory accessor, so it only ever sees
// the caller's own namespace.
func NewLoadMemoryTool() *tool.FunctionTool {
	return tool.NewFunctionTool(
		"load_memory",
		"Load the assistant's persistent memory of key details from past conversations.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(toolCtx *core.ToolContext, _ map[string]any) (any, error) {
			ns, err := toolCtx.RecallMemory()
			if err != nil {
				return nil, err
			}
			return FormatFacts(ns), nil
		},
	)
}

type saveMemoryArgs struct {
	Key   string `json:"key" description:"Short stable snake_case identifier for the fact (e.g. favorite_color)"`
	Value string `json:"value" description:"The full current value of the fact; replaces any previous value under the same key"`
}

// NewSaveMemoryTool lets the model persist one fact at a time. Saving an
// existing key overwrites its value.
func NewSaveMemoryTool() *tool.FunctionTool {
	return tool.NewFunctionToolFromStruct(
		"save_memory",
		"Persist one long-term memory fact that may affect future conversations.\n\n"+
			"Workflow:\n"+
			"- Always call `load_memory` first.\n"+
			"- Merge new information with the existing facts.\n"+
			"- Resolve conflicts and drop outdated details.\n"+
			"- Save each fact under a short stable key.\n\n"+
			"Guidelines:\n"+
			"- Saving an existing key overwrites its value; never save partial updates.\n"+
			"- Keep facts accurate, consistent, and concise.",
		saveMemoryArgs{},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			key, _ := args["key"].(string)
			value, _ := args["value"].(string)

			if err := toolCtx.SaveFact(key, value); err != nil {
				return nil, err
			}
			return map[string]any{"status": "saved", "key": key}, nil
		},
	)
}
