package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Settings drives engine behaviour. It is passed explicitly to every component;
// nothing reads it from a global.
type Settings struct {
	EmailEnabled        bool   `envconfig:"EMAIL_ENABLED" default:"true"`
	EmailProvider       string `envconfig:"EMAIL_PROVIDER" default:"console"`
	EmailFromAddress    string `envconfig:"EMAIL_FROM_ADDRESS" default:"noreply@example.com"`
	EmailFromName       string `envconfig:"EMAIL_FROM_NAME"`
	EmailReplyTo        string `envconfig:"EMAIL_REPLY_TO"`
	SESRegion           string `envconfig:"SES_REGION"`
	SESConfigurationSet string `envconfig:"SES_CONFIGURATION_SET"`

	SMSEnabled    bool   `envconfig:"SMS_ENABLED" default:"true"`
	SMSProvider   string `envconfig:"SMS_PROVIDER" default:"console"`
	SMSFromNumber string `envconfig:"SMS_FROM_NUMBER" default:"+15550000000"`

	TwilioAccountSID          string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken           string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioMessagingServiceSID string `envconfig:"TWILIO_MESSAGING_SERVICE_SID"`
	TwilioBaseURL             string `envconfig:"TWILIO_BASE_URL" default:"https://api.twilio.com"`
	TwilioStatusCallbackURL   string `envconfig:"TWILIO_STATUS_CALLBACK_URL"`

	DefaultChannel string `envconfig:"DEFAULT_CHANNEL" default:"email"`
	DefaultProfile string `envconfig:"DEFAULT_IDENTITY_PROFILE"`
	PrimaryLocale  string `envconfig:"PRIMARY_LOCALE" default:"en"`

	PushEnabled          bool   `envconfig:"PUSH_ENABLED" default:"false"`
	VAPIDPublicKey       string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey      string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDContactEmail    string `envconfig:"VAPID_CONTACT_EMAIL"`
	PushURL              string `envconfig:"PUSH_URL" default:"/portal/messages/"`
	PushFailureThreshold int    `envconfig:"PUSH_FAILURE_THRESHOLD" default:"3"`

	FallbackEnabled bool          `envconfig:"NOTIFICATION_FALLBACK_ENABLED" default:"true"`
	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"10s"`
	ProviderRPS     float64       `envconfig:"PROVIDER_RPS" default:"10"`
	ProviderBurst   int           `envconfig:"PROVIDER_BURST" default:"20"`
}

// DefaultSettings mirrors the envconfig defaults. Binaries load from the
// environment instead; this is for library callers and tests.
func DefaultSettings() Settings {
	return Settings{
		EmailEnabled:         true,
		EmailProvider:        "console",
		EmailFromAddress:     "noreply@example.com",
		SMSEnabled:           true,
		SMSProvider:          "console",
		SMSFromNumber:        "+15550000000",
		TwilioBaseURL:        "https://api.twilio.com",
		DefaultChannel:       "email",
		PrimaryLocale:        "en",
		PushURL:              "/portal/messages/",
		PushFailureThreshold: 3,
		FallbackEnabled:      true,
		ProviderTimeout:      10 * time.Second,
		ProviderRPS:          10,
		ProviderBurst:        20,
	}
}

func (s Settings) EmailConfigured() bool {
	if !s.EmailEnabled || s.EmailFromAddress == "" {
		return false
	}
	if s.EmailProvider == "ses" {
		return s.SESRegion != ""
	}
	return true
}

func (s Settings) SMSConfigured() bool {
	if !s.SMSEnabled {
		return false
	}
	if s.SMSProvider == "twilio" {
		return s.TwilioAccountSID != "" && s.TwilioAuthToken != "" &&
			(s.SMSFromNumber != "" || s.TwilioMessagingServiceSID != "")
	}
	return true
}

func (s Settings) PushConfigured() bool {
	return s.PushEnabled && s.VAPIDPublicKey != "" && s.VAPIDPrivateKey != "" && s.VAPIDContactEmail != ""
}

type DBConfig struct {
	DBDSN                   string `envconfig:"DB_DSN"`
	DBPoolMaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS" default:"20"`
	DBPoolMinConns          int32  `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"30m"`
	DBPoolMaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"5m"`
	DBPoolHealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD" default:"30s"`
}

type APIConfig struct {
	Settings
	DBConfig

	Port        string        `envconfig:"PORT" default:"8080"`
	MetricsPort string        `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string        `envconfig:"LOG_FORMAT" default:"json"`
	RedisURL    string        `envconfig:"REDIS_URL"`
	TemplateTTL time.Duration `envconfig:"TEMPLATE_CACHE_TTL" default:"5m"`

	// AWS / SQS. Queues are optional; features that need them are disabled when unset.
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	EventsQueueURL     string `envconfig:"EVENTS_QUEUE_URL"`
	DeliveryQueueURL   string `envconfig:"DELIVERY_EVENTS_QUEUE_URL"`
	AuditQueueURL      string `envconfig:"AUDIT_QUEUE_URL"`
	AuditBuffer        int    `envconfig:"AUDIT_BUFFER" default:"1024"`

	PublicWebhookURL string `envconfig:"PUBLIC_WEBHOOK_URL"` // must match the URL configured in Twilio
}

type WorkerConfig struct {
	Settings
	DBConfig

	Port        string        `envconfig:"PORT" default:"8080"`
	MetricsPort string        `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string        `envconfig:"LOG_FORMAT" default:"json"`
	RedisURL    string        `envconfig:"REDIS_URL"`
	TemplateTTL time.Duration `envconfig:"TEMPLATE_CACHE_TTL" default:"5m"`

	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	EventsQueueURL     string `envconfig:"EVENTS_QUEUE_URL" required:"true"`
	AuditQueueURL      string `envconfig:"AUDIT_QUEUE_URL"`
	AuditBuffer        int    `envconfig:"AUDIT_BUFFER" default:"1024"`
	SQSWaitTime        int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs         int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`

	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"8"`
}

type DeliveryConfig struct {
	DBConfig

	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	AWSRegion            string `envconfig:"AWS_REGION" default:"us-east-1"`
	LocalstackEndpoint   string `envconfig:"LOCALSTACK_ENDPOINT"`
	DeliveryQueueURL     string `envconfig:"DELIVERY_EVENTS_QUEUE_URL" required:"true"`
	AuditQueueURL        string `envconfig:"AUDIT_QUEUE_URL"`
	AuditBuffer          int    `envconfig:"AUDIT_BUFFER" default:"1024"`
	SQSWaitTime          int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs           int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout        int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`
	ProcessorConcurrency int    `envconfig:"PROCESSOR_CONCURRENCY" default:"8"`
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	load(&cfg)
	return cfg
}

func LoadWorker() WorkerConfig {
	var cfg WorkerConfig
	load(&cfg)
	return cfg
}

func LoadDelivery() DeliveryConfig {
	var cfg DeliveryConfig
	load(&cfg)
	return cfg
}

func load(cfg any) {
	if os.Getenv("APP_ENV") == "development" {
		_ = godotenv.Load()
	}
	if err := envconfig.Process("", cfg); err != nil {
		panic(err)
	}
}
