package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/FarmLedger/EnrollPipe/internal/genai"
	"github.com/FarmLedger/EnrollPipe/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
)

const extractorSystemPrompt = `You extract farmer registration details from WhatsApp messages.
Call save_registration_fields with every field value the user stated in their latest message.
Only include fields the user actually provided. Never guess or invent values.
A short bare answer is most likely the value for whatever you asked last.
The user may write in any language. Keep values exactly as the user wrote them, trimmed of surrounding whitespace.
If the latest message contains no registration details, do not call the tool.`

// maxHistoryMessages caps how much of the conversation log is replayed to
// the provider per extraction.
const maxHistoryMessages = 10

// Extractor pulls registration field values out of free-form messages using
// a single LLM function tool.
type Extractor struct {
	genaiClient genai.ClientInterface
}

// NewExtractor creates an extractor backed by the given GenAI client.
func NewExtractor(genaiClient genai.ClientInterface) *Extractor {
	slog.Debug("flow.NewExtractor: creating extractor", "hasGenAI", genaiClient != nil)
	return &Extractor{genaiClient: genaiClient}
}

// GetToolDefinition returns the OpenAI tool definition for saving
// registration fields.
func (e *Extractor) GetToolDefinition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        "save_registration_fields",
			Description: openai.String("Save registration field values the user stated in their latest message. Only include fields the user actually provided."),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					FieldFirstName: map[string]interface{}{
						"type":        "string",
						"description": "The user's first (given) name",
					},
					FieldLastName: map[string]interface{}{
						"type":        "string",
						"description": "The user's last (family) name",
					},
					FieldFarmName: map[string]interface{}{
						"type":        "string",
						"description": "The name of the user's farm",
					},
					FieldPassword: map[string]interface{}{
						"type":        "string",
						"description": "The password the user chose for their account",
					},
					FieldEmail: map[string]interface{}{
						"type":        "string",
						"description": "The user's email address, if volunteered",
					},
					FieldLocation: map[string]interface{}{
						"type":        "string",
						"description": "The location of the farm, if volunteered",
					},
				},
				"required": []string{},
			},
		},
	}
}

// Extract returns the field values found in the incoming message, given the
// conversation so far and the fields already collected. A value returned for
// an already-collected field is the user correcting an earlier answer.
// Provider failures and malformed tool calls degrade to an empty map so a
// single turn is never lost to an LLM outage; the caller re-prompts instead.
func (e *Extractor) Extract(ctx context.Context, history []models.Message, incoming string, collected map[string]string) map[string]string {
	if e.genaiClient == nil {
		slog.Warn("flow.Extractor.Extract: no genai client configured")
		return map[string]string{}
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(extractorSystemPrompt),
	}
	if len(collected) > 0 {
		messages = append(messages, openai.SystemMessage(fmt.Sprintf(
			"CONTEXT: Already collected: %s. A value for one of these fields is the user explicitly correcting an earlier answer.",
			collectedSummary(collected))))
	}
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	for _, m := range history {
		if m.Direction == models.DirectionOutbound {
			messages = append(messages, openai.AssistantMessage(m.Body))
		} else {
			messages = append(messages, openai.UserMessage(m.Body))
		}
	}
	messages = append(messages, openai.UserMessage(incoming))

	resp, err := e.genaiClient.GenerateWithTools(ctx, messages, []openai.ChatCompletionToolParam{e.GetToolDefinition()})
	if err != nil {
		slog.Warn("flow.Extractor.Extract: generation failed, returning no fields", "error", err)
		return map[string]string{}
	}

	extracted := map[string]string{}
	for _, tc := range resp.ToolCalls {
		if tc.Name != "save_registration_fields" {
			slog.Debug("flow.Extractor.Extract: ignoring unexpected tool call", "tool", tc.Name)
			continue
		}
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
			slog.Warn("flow.Extractor.Extract: malformed tool arguments", "error", err)
			continue
		}
		for name, raw := range args {
			if !IsKnownField(name) {
				slog.Debug("flow.Extractor.Extract: dropping unknown field", "field", name)
				continue
			}
			value, ok := raw.(string)
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			extracted[name] = value
		}
	}
	slog.Debug("flow.Extractor.Extract: extraction finished", "fields", len(extracted))
	return extracted
}

// collectedSummary renders the collected fields in declared order for the
// provider prompt, with the password value masked.
func collectedSummary(collected map[string]string) string {
	parts := make([]string, 0, len(collected))
	for _, f := range registrationFields {
		value, ok := collected[f.Name]
		if !ok {
			continue
		}
		if f.Name == FieldPassword {
			value = maskedPassword
		}
		parts = append(parts, f.Name+"="+value)
	}
	return strings.Join(parts, ", ")
}
