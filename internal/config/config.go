package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// StageEnv lists the pipeline labels the assistant may suggest, keyed to the
// environment variable holding each Kommo status id.
var StageEnv = []struct {
	Label string
	Env   string
}{
	{"Leads Recebidos", "KOMMO_STATUS_LEADS_RECEBIDOS"},
	{"Contato em Andamento", "KOMMO_STATUS_CONTATO_EM_ANDAMENTO"},
	{"Serviço Vendido", "KOMMO_STATUS_SERVICO_VENDIDO"},
	{"Agendamento Pendente", "KOMMO_STATUS_AGENDAMENTO_PENDENTE"},
	{"Agendamentos Confirmados", "KOMMO_STATUS_AGENDAMENTOS_CONFIRMADOS"},
	{"Cliente Presente", "KOMMO_STATUS_CLIENTE_PRESENTE"},
	{"Cliente Ausente", "KOMMO_STATUS_CLIENTE_AUSENTE"},
	{"Reengajar", "KOMMO_STATUS_REENGAJAR"},
	{"Solicitar FeedBack", "KOMMO_STATUS_SOLICITAR_FEEDBACK"},
	{"Solicitar Avaliação Google", "KOMMO_STATUS_SOLICITAR_AVALIACAO_GOOGLE"},
	{"Avaliação 5 Estrelas", "KOMMO_STATUS_AVALIACAO_5_ESTRELAS"},
	{"Cliente Insatisfeito", "KOMMO_STATUS_CLIENTE_INSATISFEITO"},
	{"Vagas de Emprego", "KOMMO_STATUS_VAGAS_DE_EMPREGO"},
	{"Solicitar Atendimento Humano", "KOMMO_STATUS_SOLICITAR_ATENDIMENTO_HUMANO"},
}

// CalendarEnv maps each service category accepted by the scheduling webhook
// to the environment variable holding its Google Calendar id.
var CalendarEnv = []struct {
	Category string
	Env      string
}{
	{"polimentos", "CAL_POLIMENTOS_ID"},
	{"higienizacao", "CAL_HIGIENIZACAO_ID"},
	{"lavagens", "CAL_LAVAGENS_ID"},
	{"peliculas", "CAL_PELICULAS_ID"},
	{"instalacoes", "CAL_INSTALACOES_ID"},
	{"martelinho", "CAL_MARTELINHO_ID"},
	{"role_guarulhos", "CAL_ROLE_GUARULHOS_ID"},
}

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Inbound webhook
	WebhookSecret       string
	MaxWebhookBodyBytes int64
	WebhookRateLimit    float64
	WebhookRateBurst    int
	CORSAllowedOrigins  []string

	// Kommo CRM
	KommoDomain     string
	KommoToken      string
	KommoMaxRetries int
	LeadSourceLabel string
	StageStatusIDs  map[string]string

	// Kommo Chats API (outbound)
	ChatBaseURL   string
	ChatScopeID   string
	ChatBotID     string
	ChatBotName   string
	ChatAPISecret string

	// Assistant
	OpenAIAPIKey          string
	OpenAIAssistantID     string
	OpenAIModel           string
	OpenAISystemPrompt    string
	AssistantPollInterval time.Duration
	ThreadTTL             time.Duration

	// Scheduling (Google Calendar)
	GoogleServiceAccountJSON string
	CalendarIDs              map[string]string
	Timezone                 string
	CalendarTimeout          time.Duration

	// Deadlines
	ProcessTimeout   time.Duration
	CRMTimeout       time.Duration
	AssistantTimeout time.Duration
	DispatchTimeout  time.Duration

	// Stores
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	DatabaseURL   string
	DedupeTTL     time.Duration
	LeadLeaseTTL  time.Duration
	LeadLeaseWait time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	stages := make(map[string]string, len(StageEnv))
	for _, s := range StageEnv {
		if id := strings.TrimSpace(getEnv(s.Env, "")); id != "" {
			stages[s.Label] = id
		}
	}
	calendars := make(map[string]string, len(CalendarEnv))
	for _, c := range CalendarEnv {
		if id := strings.TrimSpace(getEnv(c.Env, "")); id != "" {
			calendars[c.Category] = id
		}
	}
	return &Config{
		Port:     getEnv("PORT", "3000"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		WebhookSecret:       getEnv("KOMMO_CHAT_WEBHOOK_SECRET", ""),
		MaxWebhookBodyBytes: int64(getEnvAsInt("MAX_WEBHOOK_BODY_BYTES", 1<<20)),
		WebhookRateLimit:    getEnvAsFloat("WEBHOOK_RATE_LIMIT", 20),
		WebhookRateBurst:    getEnvAsInt("WEBHOOK_RATE_BURST", 40),
		CORSAllowedOrigins:  splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),

		KommoDomain:     strings.TrimRight(getEnv("KOMMO_DOMAIN", ""), "/"),
		KommoToken:      getEnv("KOMMO_TOKEN", ""),
		KommoMaxRetries: getEnvAsInt("KOMMO_MAX_RETRIES", 2),
		LeadSourceLabel: getEnv("LEAD_SOURCE_LABEL", "WhatsApp via Erika"),
		StageStatusIDs:  stages,

		ChatBaseURL:   getEnv("KOMMO_CHAT_BASE_URL", "https://amojo.kommo.com"),
		ChatScopeID:   getEnv("KOMMO_CHAT_SCOPE_ID", ""),
		ChatBotID:     getEnv("KOMMO_CHAT_BOT_ID", ""),
		ChatBotName:   getEnv("KOMMO_CHAT_BOT_NAME", "Erika"),
		ChatAPISecret: getEnv("KOMMO_CHAT_API_SECRET", ""),

		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIAssistantID:     getEnv("OPENAI_ASSISTANT_ID", ""),
		OpenAIModel:           getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAISystemPrompt:    getEnv("OPENAI_SYSTEM_PROMPT", ""),
		AssistantPollInterval: getEnvAsDuration("ASSISTANT_POLL_INTERVAL", time.Second),
		ThreadTTL:             getEnvAsDuration("THREAD_TTL", 30*24*time.Hour),

		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		CalendarIDs:              calendars,
		Timezone:                 getEnv("TIMEZONE", "America/Sao_Paulo"),
		CalendarTimeout:          getEnvAsDuration("CALENDAR_TIMEOUT", 10*time.Second),

		ProcessTimeout:   getEnvAsDuration("PROCESS_TIMEOUT", 2*time.Minute),
		CRMTimeout:       getEnvAsDuration("CRM_TIMEOUT", 15*time.Second),
		AssistantTimeout: getEnvAsDuration("ASSISTANT_TIMEOUT", 90*time.Second),
		DispatchTimeout:  getEnvAsDuration("DISPATCH_TIMEOUT", 15*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		DedupeTTL:     getEnvAsDuration("DEDUPE_TTL", 24*time.Hour),
		LeadLeaseTTL:  getEnvAsDuration("LEAD_LEASE_TTL", 30*time.Second),
		LeadLeaseWait: getEnvAsDuration("LEAD_LEASE_WAIT", 10*time.Second),
	}
}

// Missing lists required settings that are empty. The webhook keeps running
// without them but the health endpoint reports not ok.
func (c *Config) Missing() []string {
	var missing []string
	required := []struct {
		key, value string
	}{
		{"KOMMO_CHAT_WEBHOOK_SECRET", c.WebhookSecret},
		{"KOMMO_DOMAIN", c.KommoDomain},
		{"KOMMO_TOKEN", c.KommoToken},
		{"KOMMO_CHAT_SCOPE_ID", c.ChatScopeID},
		{"KOMMO_CHAT_API_SECRET", c.ChatAPISecret},
		{"OPENAI_API_KEY", c.OpenAIAPIKey},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.key)
		}
	}
	return missing
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
