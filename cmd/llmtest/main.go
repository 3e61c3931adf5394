// Command llmtest sends one message to the configured assistant and prints
// how the reply splits into customer text and CRM action.
//
// Usage:
//
//	go run ./cmd/llmtest [-phone +5511999990000] "Oi, quero agendar"
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tecbrilho/erika-relay/internal/app/bootstrap"
	"github.com/tecbrilho/erika-relay/internal/assistant"
	appconfig "github.com/tecbrilho/erika-relay/internal/config"
	"github.com/tecbrilho/erika-relay/pkg/logging"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	phone := flag.String("phone", "+5511999990000", "customer phone sent to the assistant")
	leadID := flag.Int64("lead", 0, "optional Kommo lead id for context")
	flag.Parse()

	text := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if text == "" {
		text = "Oi, gostaria de saber os horários disponíveis esta semana."
	}

	cfg := appconfig.Load()
	if cfg.OpenAIAPIKey == "" {
		fmt.Println("Error: OPENAI_API_KEY environment variable not set")
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AssistantTimeout+30*time.Second)
	defer cancel()

	asst := bootstrap.BuildAssistant(cfg, nil, assistant.NewMemoryThreadStore(), logger)

	start := time.Now()
	raw, err := asst.Reply(ctx, assistant.Request{
		Phone:       *phone,
		MessageText: text,
		Lead:        assistant.LeadInfo{ID: *leadID},
	})
	if err != nil {
		fmt.Printf("Assistant error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Assistant replied in %v\n\n", time.Since(start).Round(time.Millisecond))

	parsed := assistant.Split(raw)
	fmt.Printf("Client text:\n%s\n\n", parsed.ClientText)
	switch {
	case parsed.ParseErr != nil:
		fmt.Printf("Action block present but unreadable: %v\n", parsed.ParseErr)
	case parsed.Action == nil:
		fmt.Println("No action block")
	default:
		fmt.Printf("Suggested stage: %q\n", parsed.Action.SuggestedStage)
		fmt.Printf("Summary note:    %q\n", parsed.Action.SummaryNote)
	}
}
