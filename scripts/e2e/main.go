// Command e2e exercises a running relay over HTTP: signature checks, the
// immediate acknowledgement, duplicate suppression and both inbound shapes.
//
// Replies are delivered asynchronously to the Kommo conversation, so this
// only asserts what the webhook endpoint itself returns. Watch the Kommo
// inbox for the assistant's answer.
//
// Usage:
//
//	WEBHOOK_SECRET=... API_BASE_URL=... go run ./scripts/e2e              # runs all
//	WEBHOOK_SECRET=... API_BASE_URL=... go run ./scripts/e2e duplicate    # runs one
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tecbrilho/erika-relay/internal/webhook"
)

const testPhone = "+5511900000000"

var (
	apiBase string
	secret  string
	client  = &http.Client{Timeout: 15 * time.Second}
)

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed int
	failed int
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...interface{}) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

func chatPayload(messageID, text, phone string) []byte {
	body, _ := json.Marshal(map[string]any{
		"message": map[string]any{
			"message":      map[string]any{"id": messageID, "text": text},
			"receiver":     map[string]any{"id": "e2e-contact", "name": "E2E", "phone": phone},
			"conversation": map[string]any{"id": "e2e-" + phone},
		},
	})
	return body
}

func post(path string, body []byte, key string) (int, string, error) {
	req, err := http.NewRequest(http.MethodPost, apiBase+path, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.SignatureHeader, webhook.Sign(body, key))
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(out), nil
}

var scenarios = []scenario{
	{"health", func(t *T) {
		resp, err := client.Get(apiBase + "/health")
		if err != nil {
			t.fatalf("health: %v", err)
			return
		}
		defer resp.Body.Close()
		var out struct {
			OK      bool     `json:"ok"`
			Missing []string `json:"missing"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.fatalf("decode health: %v", err)
			return
		}
		t.check("health reports ok", out.OK && resp.StatusCode == http.StatusOK)
		if len(out.Missing) > 0 {
			fmt.Printf("    missing settings: %v\n", out.Missing)
		}
	}},
	{"bad-signature", func(t *T) {
		code, _, err := post("/kommo/chat-webhook", chatPayload(uuid.NewString(), "Oi", testPhone), "wrong-"+secret)
		if err != nil {
			t.fatalf("post: %v", err)
			return
		}
		t.check("unsigned delivery rejected with 401", code == http.StatusUnauthorized)
	}},
	{"accepted", func(t *T) {
		code, body, err := post("/kommo/chat-webhook", chatPayload(uuid.NewString(), "Oi, quais horários vocês têm amanhã?", testPhone), secret)
		if err != nil {
			t.fatalf("post: %v", err)
			return
		}
		t.check("signed delivery acknowledged", code == http.StatusOK && body == "ok")
	}},
	{"duplicate", func(t *T) {
		payload := chatPayload(uuid.NewString(), "Oi de novo", testPhone)
		for i := 0; i < 2; i++ {
			code, body, err := post("/kommo/chat-webhook", payload, secret)
			if err != nil {
				t.fatalf("post %d: %v", i+1, err)
				return
			}
			t.check(fmt.Sprintf("delivery %d acknowledged", i+1), code == http.StatusOK && body == "ok")
		}
	}},
	{"not-actionable", func(t *T) {
		code, body, err := post("/kommo/chat-webhook", chatPayload(uuid.NewString(), "", ""), secret)
		if err != nil {
			t.fatalf("post: %v", err)
			return
		}
		t.check("incomplete delivery acknowledged without processing", code == http.StatusOK && body == "ok")
	}},
	{"flat", func(t *T) {
		payload, _ := json.Marshal(map[string]any{
			"message":    "Oi, vim pelo BotConversa",
			"phone":      testPhone,
			"name":       "E2E",
			"contact_id": "e2e-flat",
			"message_id": uuid.NewString(),
		})
		code, body, err := post("/botconversa/webhook", payload, secret)
		if err != nil {
			t.fatalf("post: %v", err)
			return
		}
		t.check("flat delivery acknowledged", code == http.StatusOK && body == "ok")
	}},
}

func main() {
	apiBase = os.Getenv("API_BASE_URL")
	if apiBase == "" {
		apiBase = "http://localhost:3000"
	}
	secret = os.Getenv("WEBHOOK_SECRET")
	if secret == "" {
		fmt.Println("Error: WEBHOOK_SECRET environment variable not set")
		os.Exit(1)
	}

	only := ""
	if len(os.Args) > 1 {
		only = os.Args[1]
	}

	var passed, failed int
	for _, s := range scenarios {
		if only != "" && s.Name != only {
			continue
		}
		fmt.Printf("==> %s\n", s.Name)
		t := &T{}
		s.Fn(t)
		passed += t.passed
		failed += t.failed
	}

	fmt.Printf("\n%d passed, %d failed\n", passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
