package models

import (
	"strings"
	"time"
)

// DocumentPlaceholder marks where the document text goes in a prompt.
const DocumentPlaceholder = "{document_content}"

// TemplateVariable describes one substitution slot of a prompt template.
type TemplateVariable struct {
	Name     string `firestore:"name" json:"name"`
	Required bool   `firestore:"required" json:"required"`
}

// PromptTemplate is a reusable analysis prompt.
type PromptTemplate struct {
	ID            string             `firestore:"-" json:"id"`
	Name          string             `firestore:"name" json:"name"`
	Description   string             `firestore:"description,omitempty" json:"description,omitempty"`
	PromptText    string             `firestore:"promptText" json:"prompt_text"`
	Category      string             `firestore:"category,omitempty" json:"category,omitempty"`
	Variables     []TemplateVariable `firestore:"variables,omitempty" json:"variables,omitempty"`
	ExampleOutput string             `firestore:"exampleOutput,omitempty" json:"example_output,omitempty"`
	UsageCount    int                `firestore:"usageCount" json:"usage_count"`
	IsPublic      bool               `firestore:"isPublic" json:"is_public"`
	CreatedAt     time.Time          `firestore:"createdAt" json:"created_at"`
}

// ComposePrompt builds the final text sent to a model. The document is
// substituted into the placeholder when present, otherwise appended.
func ComposePrompt(instruction, documentText string) string {
	if strings.Contains(instruction, DocumentPlaceholder) {
		return strings.ReplaceAll(instruction, DocumentPlaceholder, documentText)
	}
	return instruction + "\n\nDocument:\n" + documentText
}

func documentVariable() []TemplateVariable {
	return []TemplateVariable{{Name: "document_content", Required: true}}
}

// DefaultTemplates returns the built-in public templates.
func DefaultTemplates() []PromptTemplate {
	return []PromptTemplate{
		{
			Name:          "Executive Summary",
			Category:      "summary",
			Description:   "Generate a concise executive summary",
			PromptText:    "Provide a concise executive summary of the following document in 3-5 bullet points: {document_content}",
			Variables:     documentVariable(),
			ExampleOutput: "• Key finding 1\n• Key finding 2\n• Key finding 3",
			IsPublic:      true,
		},
		{
			Name:          "Key Insights",
			Category:      "analysis",
			Description:   "Extract the most important insights",
			PromptText:    "Analyze this document and extract the 5 most important insights: {document_content}",
			Variables:     documentVariable(),
			ExampleOutput: "1. Insight 1\n2. Insight 2\n3. Insight 3\n4. Insight 4\n5. Insight 5",
			IsPublic:      true,
		},
		{
			Name:          "Action Items",
			Category:      "extraction",
			Description:   "List all action items and tasks",
			PromptText:    "List all action items, tasks, or next steps mentioned in this document: {document_content}",
			Variables:     documentVariable(),
			ExampleOutput: "• Action item 1\n• Action item 2\n• Action item 3",
			IsPublic:      true,
		},
		{
			Name:          "Financial Figures",
			Category:      "extraction",
			Description:   "Extract financial data and numbers",
			PromptText:    "Extract all financial figures, amounts, and percentages from this document: {document_content}",
			Variables:     documentVariable(),
			ExampleOutput: "$1,000,000 - Revenue\n25% - Growth rate\n$500,000 - Profit",
			IsPublic:      true,
		},
		{
			Name:          "Sentiment Analysis",
			Category:      "analysis",
			Description:   "Analyze the sentiment and tone",
			PromptText:    "Analyze the sentiment and overall tone of this document. Is it positive, negative, or neutral? Explain your reasoning: {document_content}",
			Variables:     documentVariable(),
			ExampleOutput: "Sentiment: Positive\nReasoning: The document contains optimistic language...",
			IsPublic:      true,
		},
	}
}
