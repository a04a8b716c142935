package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second
	defaultEventTopic   = "commerce-domain-events"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	PubSub    PubSubConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig stores the event publishing parameters.
type PubSubConfig struct {
	ProjectID    string
	EventTopic   string
	EmulatorHost string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises how configuration is loaded.
type Option func(*loader)

type loader struct {
	envFile string
	lookup  func(string) (string, bool)
}

// WithEnvFile overrides the dotenv file consulted before process env vars.
func WithEnvFile(path string) Option {
	return func(l *loader) {
		if strings.TrimSpace(path) != "" {
			l.envFile = path
		}
	}
}

// WithLookup overrides the environment lookup function, primarily for tests.
func WithLookup(lookup func(string) (string, bool)) Option {
	return func(l *loader) {
		if lookup != nil {
			l.lookup = lookup
		}
	}
}

// Load assembles the configuration from the dotenv file and process environment.
// Process environment variables take precedence over dotenv entries.
func Load(opts ...Option) (Config, error) {
	l := loader{
		envFile: defaultEnvFile,
		lookup:  os.LookupEnv,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&l)
		}
	}

	fileValues := readEnvFile(l.envFile)
	get := func(key string) string {
		if value, ok := l.lookup(key); ok {
			return strings.TrimSpace(value)
		}
		return strings.TrimSpace(fileValues[key])
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         defaultString(get("PORT"), defaultPort),
			ReadTimeout:  defaultDuration(get("SERVER_READ_TIMEOUT"), defaultReadTimeout),
			WriteTimeout: defaultDuration(get("SERVER_WRITE_TIMEOUT"), defaultWriteTimeout),
			IdleTimeout:  defaultDuration(get("SERVER_IDLE_TIMEOUT"), defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    defaultString(get("FIRESTORE_PROJECT_ID"), get("GOOGLE_CLOUD_PROJECT")),
			EmulatorHost: get("FIRESTORE_EMULATOR_HOST"),
		},
		PubSub: PubSubConfig{
			ProjectID:    defaultString(get("PUBSUB_PROJECT_ID"), get("GOOGLE_CLOUD_PROJECT")),
			EventTopic:   defaultString(get("PUBSUB_EVENT_TOPIC"), defaultEventTopic),
			EmulatorHost: get("PUBSUB_EMULATOR_HOST"),
		},
	}

	var missing []string
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "FIRESTORE_PROJECT_ID")
	}
	if cfg.PubSub.ProjectID == "" {
		missing = append(missing, "PUBSUB_PROJECT_ID")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Config{}, &ValidationError{fields: missing}
	}

	return cfg, nil
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func defaultDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

func readEnvFile(path string) map[string]string {
	values := make(map[string]string)
	if strings.TrimSpace(path) == "" {
		return values
	}

	file, err := os.Open(path)
	if err != nil {
		return values
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if key != "" {
			values[key] = value
		}
	}
	return values
}
