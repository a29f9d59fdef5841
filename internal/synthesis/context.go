// Package synthesis turns ranked support tickets into a grounded answer.
//
// AssembleContext renders the retrieved tickets as plain text for the model.
// Synthesizer asks the model for an answer under a strict JSON contract and
// rejects anything that does not satisfy it.
package synthesis

import (
	"strconv"
	"strings"

	"github.com/knoguchi/supportrag/internal/reranker"
)

const (
	contextHeader = "The following are previous similar questions, their similarity scores, and the answers given:"
	noMatches     = "No similar previous questions were found."
)

// AssembleContext renders results in order as a header followed by one
// Question/Similarity Score/Answer block per result. Output is a pure
// function of its input. An empty result set renders an explicit statement
// instead of blocks so the model is told there is no grounding.
func AssembleContext(results []reranker.RankedResult) string {
	var sb strings.Builder

	sb.WriteString(contextHeader)
	sb.WriteString("\n\n")

	if len(results) == 0 {
		sb.WriteString(noMatches)
		sb.WriteString("\n")
		return sb.String()
	}

	for _, r := range results {
		sb.WriteString("Question: ")
		sb.WriteString(r.Question)
		sb.WriteString("\nSimilarity Score: ")
		sb.WriteString(strconv.FormatFloat(r.Similarity, 'f', -1, 64))
		sb.WriteString("\nAnswer: ")
		sb.WriteString(r.Answer)
		sb.WriteString("\n\n")
	}

	return sb.String()
}
