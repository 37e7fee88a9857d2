package workflow

import (
	"context"

	"taskline/internal/domain"
)

// maxRewrites bounds the corrective retrieval loop so every research chain
// terminates regardless of how the grader votes.
const maxRewrites = 3

// Research is the tool-augmented chain with a corrective retrieval loop:
// retrieve documents, grade them, and either proceed to synthesis or rewrite
// the query and retrieve again. The loop counter ("rewriteCount") and the
// grader's verdict ("gradingResult") both live in the baton.
func Research() Workflow {
	return &graph{
		name:  "research",
		entry: "retrieve",
		handlers: map[string]NodeHandler{
			"retrieve":        retrieveDocuments,
			"grade_documents": gradeDocuments,
			"rewrite_query":   rewriteQuery,
			"synthesize":      synthesizeAnswer,
		},
		route: func(node string, state domain.State) string {
			switch node {
			case "retrieve":
				return "grade_documents"
			case "grade_documents":
				if state.String("gradingResult") == "proceed" ||
					state.Int("rewriteCount") >= maxRewrites {
					return "synthesize"
				}
				return "rewrite_query"
			case "rewrite_query":
				return "retrieve"
			default:
				return ""
			}
		},
	}
}

func retrieveDocuments(ctx context.Context, state domain.State) (domain.State, error) {
	return domain.State{
		"documents": []string{"doc:" + state.String("query")},
	}, nil
}

func gradeDocuments(ctx context.Context, state domain.State) (domain.State, error) {
	// Collaborator stub: a real grader consults a model. Anything retrieved
	// after at least one rewrite is accepted here.
	verdict := "rewrite"
	if state.Int("rewriteCount") > 0 {
		verdict = "proceed"
	}
	return domain.State{"gradingResult": verdict}, nil
}

func rewriteQuery(ctx context.Context, state domain.State) (domain.State, error) {
	return domain.State{
		"query":         state.String("query") + "*",
		"rewriteCount":  state.Int("rewriteCount") + 1,
		"gradingResult": "",
	}, nil
}

func synthesizeAnswer(ctx context.Context, state domain.State) (domain.State, error) {
	return domain.State{"answer": "synthesized from retrieved documents"}, nil
}
