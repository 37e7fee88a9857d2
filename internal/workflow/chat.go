package workflow

import (
	"context"
	"strings"

	"taskline/internal/domain"
)

// Chat is the classify-then-branch chain: a classifier node picks one of
// three downstream agents based on the message, then every branch converges
// on synthesize. The branch point lives entirely in the baton field
// "classification" consulted by the routing function.
func Chat() Workflow {
	return &graph{
		name:  "chat",
		entry: "classify",
		handlers: map[string]NodeHandler{
			"classify":        classifyMessage,
			"memory_agent":    memoryAgent,
			"task_agent":      taskAgent,
			"smalltalk_agent": smalltalkAgent,
			"synthesize":      synthesizeReply,
		},
		route: func(node string, state domain.State) string {
			switch node {
			case "classify":
				switch state.String("classification") {
				case "memory":
					return "memory_agent"
				case "task":
					return "task_agent"
				default:
					return "smalltalk_agent"
				}
			case "memory_agent", "task_agent", "smalltalk_agent":
				return "synthesize"
			default:
				return ""
			}
		},
	}
}

func classifyMessage(ctx context.Context, state domain.State) (domain.State, error) {
	msg := strings.ToLower(state.String("message"))
	classification := "smalltalk"
	switch {
	case strings.Contains(msg, "remember") || strings.Contains(msg, "recall"):
		classification = "memory"
	case strings.Contains(msg, "remind") || strings.Contains(msg, "todo"):
		classification = "task"
	}
	return domain.State{"classification": classification}, nil
}

func memoryAgent(ctx context.Context, state domain.State) (domain.State, error) {
	return domain.State{"memories": []string{}}, nil
}

func taskAgent(ctx context.Context, state domain.State) (domain.State, error) {
	return domain.State{"actions": []string{}}, nil
}

func smalltalkAgent(ctx context.Context, state domain.State) (domain.State, error) {
	return domain.State{"tone": "casual"}, nil
}

func synthesizeReply(ctx context.Context, state domain.State) (domain.State, error) {
	return domain.State{
		"reply": "drafted reply (" + state.String("classification") + ")",
	}, nil
}
