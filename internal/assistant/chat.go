package assistant

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultSystemPrompt = `Você é Erika, atendente da TecBrilho, especialista em estética automotiva.
Crie conexão, entenda a demanda do cliente e conduza para o agendamento com frases curtas e empáticas.
Quando houver algo a registrar no CRM, termine a resposta com um bloco:
### ERIKA_ACTION
{"kommo_suggested_stage": "<etapa do funil>", "summary_note": "<resumo curto>"}
### END_ERIKA_ACTION
Nunca mencione o bloco para o cliente.`

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatAssistant answers with a single chat completion. It is used when no
// Assistants API assistant id is configured.
type ChatAssistant struct {
	client       chatClient
	model        string
	systemPrompt string
}

// NewChatAssistant returns a chat-completions backed Assistant.
func NewChatAssistant(client chatClient, model, systemPrompt string) *ChatAssistant {
	if client == nil {
		panic("assistant: chat client cannot be nil")
	}
	if strings.TrimSpace(model) == "" {
		model = openai.GPT4oMini
	}
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}
	return &ChatAssistant{client: client, model: model, systemPrompt: systemPrompt}
}

// Reply asks the model for one completion.
func (a *ChatAssistant) Reply(ctx context.Context, req Request) (string, error) {
	ctx, span := tracer.Start(ctx, "assistant.chat")
	defer span.End()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: a.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userContent(req)},
		},
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("assistant: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}
