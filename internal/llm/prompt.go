package llm

import (
	"fmt"
	"strings"

	"github.com/Veraticus/statement-spice/internal/model"
)

const systemPrompt = "You are a financial transaction categorizer. You MUST respond with ONLY a valid JSON array. " +
	"Do not include explanatory text, markdown formatting or commentary. Start your response with [ and end with ]."

// buildBatchPrompt lists the owner's categories and the descriptions to
// categorize. Each description carries a numeric id the model must echo.
func buildBatchPrompt(categories []model.Category, descriptions []string) string {
	var b strings.Builder

	b.WriteString("Assign each bank transaction description below to exactly one of the available categories.\n\n")
	b.WriteString("AVAILABLE CATEGORIES:\n")
	for _, cat := range categories {
		if cat.Description != "" {
			fmt.Fprintf(&b, "- %s: %s\n", cat.Name, cat.Description)
		} else {
			fmt.Fprintf(&b, "- %s\n", cat.Name)
		}
	}

	b.WriteString("\nTRANSACTIONS:\n")
	for i, desc := range descriptions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, desc)
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- Use only category names from the list above, spelled exactly as shown.\n")
	b.WriteString("- If no category fits, use an empty string for \"category\".\n")
	b.WriteString("- Return one object per transaction.\n\n")
	b.WriteString("Respond with a JSON array of objects with the fields ")
	b.WriteString("\"id\" (the transaction number), \"description\" (copied verbatim), ")
	b.WriteString("\"category\" and \"reason\" (a few words).\n")

	return b.String()
}
