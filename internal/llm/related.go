package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const maxRelatedQuestions = 3

const relatedQuestionsPrompt = `As a professional web researcher, your task is to generate a set of three queries that explore the subject matter more deeply, building upon the initial query and the information uncovered in its search results.

For instance, if the original query was "Starship's third test flight key milestones", your output should follow this format:

{"items":[{"query":"What were the primary objectives achieved during Starship's third test flight?"},{"query":"What factors contributed to the ultimate outcome of Starship's third test flight?"},{"query":"How will the results of the third test flight influence SpaceX's future development plans for Starship?"}]}

Aim to create queries that progressively delve into more specific aspects, implications, or adjacent topics related to the initial query. Respond with JSON only, in the language of the user's query.`

type RelatedQuestion struct {
	Query string `json:"query"`
}

type RelatedQuestions struct {
	Items []RelatedQuestion `json:"items"`
}

// GenerateRelatedQuestions asks the model for follow-up queries based on the
// finished exchange.
func GenerateRelatedQuestions(ctx context.Context, gen Generator, model string, messages []Message) (RelatedQuestions, Usage, error) {
	var convo []Message
	for _, m := range messages {
		switch m.Role {
		case RoleUser, RoleAssistant:
			if strings.TrimSpace(m.Content) != "" {
				convo = append(convo, Message{Role: m.Role, Content: m.Content})
			}
		}
	}
	if len(convo) == 0 {
		return RelatedQuestions{Items: []RelatedQuestion{}}, Usage{}, nil
	}

	resp, err := gen.Complete(ctx, GenerateRequest{
		Model:       model,
		System:      relatedQuestionsPrompt,
		Messages:    convo,
		Temperature: 0.5,
		MaxTokens:   300,
		JSONOutput:  true,
	})
	if err != nil {
		return RelatedQuestions{}, Usage{}, fmt.Errorf("failed to generate related questions: %w", err)
	}

	rq, err := ParseRelatedQuestions(resp.Content)
	if err != nil {
		return RelatedQuestions{}, resp.Usage, err
	}
	return rq, resp.Usage, nil
}

func ParseRelatedQuestions(content string) (RelatedQuestions, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var rq RelatedQuestions
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &rq); err != nil {
		return RelatedQuestions{}, fmt.Errorf("failed to parse related questions: %w", err)
	}

	items := make([]RelatedQuestion, 0, len(rq.Items))
	for _, it := range rq.Items {
		q := strings.TrimSpace(it.Query)
		if q == "" {
			continue
		}
		items = append(items, RelatedQuestion{Query: q})
		if len(items) == maxRelatedQuestions {
			break
		}
	}
	return RelatedQuestions{Items: items}, nil
}
