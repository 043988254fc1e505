package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

type Config struct {
	// Upstream feed
	BMRSBaseURL      string
	FreqURL          string // full stream URL, overrides the computed window
	FreqWindowHours  int
	FetchMaxAttempts int
	FetchRetryDelay  time.Duration
	FetchTimeout     time.Duration

	// Output
	OutputCSV string
	LogFile   string
	LogLevel  string

	// Schedule
	ScheduleCron     string
	ScheduleTimezone string
	RunOnStart       bool
	RunTimeout       time.Duration

	// API
	APIPort         int
	APIKey          string
	CORSAllowOrigin string

	// Database
	DBEnabled  bool
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string

	// Publishing
	KafkaBrokers []string
	KafkaTopic   string
	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string

	// Notifications
	WebhookURL string
	BotName    string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		BMRSBaseURL:      envStr("BMRS_BASE_URL", "https://data.elexon.co.uk/bmrs/api/v1"),
		FreqURL:          envStr("FREQ_URL", ""),
		FreqWindowHours:  envInt("FREQ_WINDOW_HOURS", 24),
		FetchMaxAttempts: envInt("FETCH_MAX_ATTEMPTS", 3),
		FetchRetryDelay:  envSeconds("FETCH_RETRY_DELAY_SECONDS", 5),
		FetchTimeout:     envSeconds("FETCH_TIMEOUT_SECONDS", 30),

		OutputCSV: envStr("OUTPUT_CSV", "average_power.csv"),
		LogFile:   envStr("LOG_FILE", "task_log.log"),
		LogLevel:  envStr("LOG_LEVEL", "info"),

		ScheduleCron:     envStr("SCHEDULE_CRON", "0 0 * * *"),
		ScheduleTimezone: envStr("SCHEDULE_TIMEZONE", "UTC"),
		RunOnStart:       envBool("RUN_ON_START", false),
		RunTimeout:       envSeconds("RUN_TIMEOUT_SECONDS", 300),

		APIPort:         envInt("API_PORT", 3001),
		APIKey:          envStr("API_KEY", ""),
		CORSAllowOrigin: envStr("CORS_ALLOW_ORIGIN", "*"),

		DBEnabled:  envBool("DB_ENABLED", false),
		DBHost:     envStr("DB_HOST", "localhost"),
		DBPort:     envInt("DB_PORT", 5432),
		DBName:     envStr("DB_NAME", "freq_response"),
		DBUser:     envStr("DB_USER", ""),
		DBPassword: envStr("DB_PASSWORD", ""),

		KafkaBrokers: envList("KAFKA_BROKERS"),
		KafkaTopic:   envStr("KAFKA_TOPIC", "freq.response.intervals"),
		MQTTBroker:   envStr("MQTT_BROKER", ""),
		MQTTTopic:    envStr("MQTT_TOPIC", "freq/response/intervals"),
		MQTTClientID: envStr("MQTT_CLIENT_ID", "freq-response"),

		WebhookURL: envStr("WEBHOOK_URL", ""),
		BotName:    envStr("BOT_NAME", "FreqResponse"),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string

	if c.FetchMaxAttempts < 1 {
		errs = append(errs, "FETCH_MAX_ATTEMPTS must be at least 1")
	}
	if c.FetchRetryDelay < 0 {
		errs = append(errs, "FETCH_RETRY_DELAY_SECONDS must not be negative")
	}
	if c.FreqWindowHours < 1 || c.FreqWindowHours > 168 {
		errs = append(errs, "FREQ_WINDOW_HOURS must be between 1 and 168")
	}
	if c.OutputCSV == "" {
		errs = append(errs, "OUTPUT_CSV is required")
	}
	if _, err := time.LoadLocation(c.ScheduleTimezone); err != nil {
		errs = append(errs, fmt.Sprintf("SCHEDULE_TIMEZONE %q: %v", c.ScheduleTimezone, err))
	}
	if _, err := cron.ParseStandard(c.ScheduleCron); err != nil {
		errs = append(errs, fmt.Sprintf("SCHEDULE_CRON %q: %v", c.ScheduleCron, err))
	}
	if c.DBEnabled && c.DBUser == "" {
		errs = append(errs, "DB_USER is required when DB_ENABLED is set")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, "KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	if c.MQTTBroker != "" && c.MQTTTopic == "" {
		errs = append(errs, "MQTT_TOPIC is required when MQTT_BROKER is set")
	}

	if c.FreqURL != "" {
		fmt.Println("[WARN] FREQ_URL set - the fetch window is fixed and FREQ_WINDOW_HOURS is ignored")
	}
	if c.APIKey == "" {
		fmt.Println("[WARN] API_KEY not set - REST API has no authentication")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Location returns the schedule's time zone; Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ScheduleTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) Print() {
	fmt.Println("=== Frequency Response Configuration ===")
	if c.FreqURL != "" {
		fmt.Printf("Source URL: %s\n", c.FreqURL)
	} else {
		fmt.Printf("BMRS API: %s (last %d hours)\n", c.BMRSBaseURL, c.FreqWindowHours)
	}
	fmt.Printf("Fetch: %d attempts, %s apart (timeout %s)\n", c.FetchMaxAttempts, c.FetchRetryDelay, c.FetchTimeout)
	fmt.Println("--------------------------------------")
	fmt.Printf("Schedule: %q (%s)\n", c.ScheduleCron, c.ScheduleTimezone)
	fmt.Printf("Run on start: %v\n", c.RunOnStart)
	fmt.Printf("Output CSV: %s\n", c.OutputCSV)
	fmt.Printf("Log file: %s (level %s)\n", c.LogFile, c.LogLevel)
	fmt.Println("--------------------------------------")
	fmt.Printf("Database: %s\n", boolLabel(c.DBEnabled, fmt.Sprintf("%s:%d/%s", c.DBHost, c.DBPort, c.DBName), "disabled"))
	fmt.Printf("Kafka: %s\n", boolLabel(len(c.KafkaBrokers) > 0, strings.Join(c.KafkaBrokers, ",")+" -> "+c.KafkaTopic, "disabled"))
	fmt.Printf("MQTT: %s\n", boolLabel(c.MQTTBroker != "", c.MQTTBroker+" -> "+c.MQTTTopic, "disabled"))
	fmt.Printf("Webhook: %s\n", boolLabel(c.WebhookURL != "", "configured", "not set"))
	fmt.Println("======================================")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envSeconds(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Second
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
