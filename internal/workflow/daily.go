package workflow

import (
	"context"
	"fmt"
	"time"

	"taskline/internal/domain"
)

// Daily is the linear digest chain: collect the day's raw events, classify
// them, summarize, persist the digest. One path, no branches.
func Daily() Workflow {
	return &graph{
		name:  "daily",
		entry: "collect_window",
		handlers: map[string]NodeHandler{
			"collect_window":   collectWindow,
			"classifier_agent": classifyWindow,
			"summarize":        summarizeWindow,
			"store_digest":     storeDigest,
		},
		route: func(node string, state domain.State) string {
			switch node {
			case "collect_window":
				return "classifier_agent"
			case "classifier_agent":
				return "summarize"
			case "summarize":
				return "store_digest"
			default:
				return ""
			}
		},
	}
}

// The handlers below stand in for the real collaborators (calendar sync,
// model calls, digest persistence). The engine only depends on their shape.

func collectWindow(ctx context.Context, state domain.State) (domain.State, error) {
	day := state.String("day")
	if day == "" {
		day = time.Now().Format("2006-01-02")
	}
	return domain.State{
		"day":    day,
		"window": fmt.Sprintf("events:%s", day),
	}, nil
}

func classifyWindow(ctx context.Context, state domain.State) (domain.State, error) {
	return domain.State{"categories": []string{"work", "personal"}}, nil
}

func summarizeWindow(ctx context.Context, state domain.State) (domain.State, error) {
	return domain.State{
		"summary": fmt.Sprintf("digest for %s", state.String("day")),
	}, nil
}

func storeDigest(ctx context.Context, state domain.State) (domain.State, error) {
	return domain.State{"digest_stored": true}, nil
}
