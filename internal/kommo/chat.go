package kommo

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tecbrilho/erika-relay/pkg/logging"
)

const (
	chatContentType = "application/json"
	botSenderID     = "erika-bot"
)

// Recipient is the customer a chat message is addressed to.
type Recipient struct {
	ID     string
	Name   string
	Phone  string
	Email  string
	Avatar string
}

// ChatConfig configures the Kommo Chats API client.
type ChatConfig struct {
	BaseURL    string
	ScopeID    string
	BotID      string
	BotName    string
	Secret     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// ChatClient sends bot messages into a Kommo conversation.
type ChatClient struct {
	baseURL    string
	scopeID    string
	botID      string
	botName    string
	secret     string
	httpClient *http.Client
	logger     *logging.Logger
	now        func() time.Time
}

// NewChatClient validates cfg and returns a ChatClient.
func NewChatClient(cfg ChatConfig) (*ChatClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://amojo.kommo.com"
	}
	if strings.TrimSpace(cfg.ScopeID) == "" {
		return nil, errors.New("kommo: chat scope id is required")
	}
	if cfg.Secret == "" {
		return nil, errors.New("kommo: chat api secret is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	botName := cfg.BotName
	if botName == "" {
		botName = "Erika"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &ChatClient{
		baseURL:    baseURL,
		scopeID:    cfg.ScopeID,
		botID:      cfg.BotID,
		botName:    botName,
		secret:     cfg.Secret,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}, nil
}

type chatEvent struct {
	EventType string      `json:"event_type"`
	Payload   chatPayload `json:"payload"`
}

type chatPayload struct {
	Timestamp      int64        `json:"timestamp"`
	MsecTimestamp  int64        `json:"msec_timestamp"`
	MsgID          string       `json:"msgid"`
	ConversationID string       `json:"conversation_id"`
	Sender         chatSender   `json:"sender"`
	Receiver       chatReceiver `json:"receiver"`
	Message        chatMessage  `json:"message"`
	Silent         bool         `json:"silent"`
}

type chatSender struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	RefID string `json:"ref_id,omitempty"`
}

type chatReceiver struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Avatar  string      `json:"avatar"`
	Profile chatProfile `json:"profile"`
}

type chatProfile struct {
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type chatMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Deliver posts text to the conversation as the bot. Non-2xx responses are
// returned as *APIError; nothing is retried.
func (c *ChatClient) Deliver(ctx context.Context, conversationID string, to Recipient, text string) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("kommo: conversation id is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	ctx, span := tracer.Start(ctx, "kommo.chat.deliver")
	defer span.End()
	span.SetAttributes(attribute.String("kommo.conversation_id", conversationID))

	now := c.now().UTC()
	event := chatEvent{
		EventType: "new_message",
		Payload: chatPayload{
			Timestamp:      now.Unix(),
			MsecTimestamp:  now.UnixMilli(),
			MsgID:          "erika-" + uuid.NewString(),
			ConversationID: conversationID,
			Sender:         chatSender{ID: botSenderID, Name: c.botName, RefID: c.botID},
			Receiver: chatReceiver{
				ID:      to.ID,
				Name:    to.Name,
				Avatar:  to.Avatar,
				Profile: chatProfile{Phone: to.Phone, Email: to.Email},
			},
			Message: chatMessage{Type: "text", Text: text},
		},
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kommo: marshal chat message: %w", err)
	}

	path := "/v2/origin/custom/" + c.scopeID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("kommo: build chat request: %w", err)
	}
	date := now.Format(time.RFC1123Z)
	contentMD5 := bodyMD5(body)
	req.Header.Set("Date", date)
	req.Header.Set("Content-Type", chatContentType)
	req.Header.Set("Content-MD5", contentMD5)
	req.Header.Set("X-Signature", SignChatRequest(c.secret, http.MethodPost, contentMD5, chatContentType, date, path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("kommo: send chat message: %w", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeAPIError(resp.StatusCode, data)
		span.RecordError(apiErr)
		return apiErr
	}
	c.logger.Debug("chat message delivered", "conversation_id", conversationID, "status", resp.StatusCode)
	return nil
}

// SignChatRequest computes the Chats API X-Signature: lowercase hex
// HMAC-SHA1 over the newline-joined method, Content-MD5, Content-Type, Date
// and path.
func SignChatRequest(secret, method, contentMD5, contentType, date, path string) string {
	canonical := strings.Join([]string{strings.ToUpper(method), contentMD5, contentType, date, path}, "\n")
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

func bodyMD5(body []byte) string {
	sum := md5.Sum(body)
	return hex.EncodeToString(sum[:])
}
