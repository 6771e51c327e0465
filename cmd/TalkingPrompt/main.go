package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/TalkingPrompt/internal/api"
	"github.com/BTreeMap/TalkingPrompt/internal/lockfile"
	"github.com/BTreeMap/TalkingPrompt/internal/messaging"
	"github.com/BTreeMap/TalkingPrompt/internal/session"
	"github.com/BTreeMap/TalkingPrompt/internal/speech"
	"github.com/BTreeMap/TalkingPrompt/internal/store"
	"github.com/BTreeMap/TalkingPrompt/internal/twiliowhatsapp"
	"github.com/BTreeMap/TalkingPrompt/internal/util"
	"github.com/BTreeMap/TalkingPrompt/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for TalkingPrompt state data
	DefaultStateDir = "/var/lib/talkingprompt"
	// DefaultWhatsAppDBFileName is the whatsmeow device store in the state directory
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

// Speech and relay provider names
const (
	TTSProviderNone   = "none"
	TTSProviderOpenAI = "openai"
	TTSProviderKokoro = "kokoro"

	RelayProviderWhatsApp = "whatsapp"
	RelayProviderTwilio   = "twilio"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("TalkingPrompt failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("TalkingPrompt exited successfully")
}

func run(args []string) error {
	config := loadEnvironmentConfig()
	initializeLogger(config.Debug)

	flags, err := parseCommandLineFlags(config, args)
	if err != nil {
		return err
	}

	lock, err := lockfile.AcquireLock(flags.StateDir, flags.APIAddr)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.New(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer st.Close()

	synth, err := buildSynthesizer(flags)
	if err != nil {
		return err
	}
	var hub *speech.Hub
	if flags.Websocket {
		hub = speech.NewHub(api.OriginChecker(flags.AllowedOrigins))
	}
	speaker := speech.NewSpeaker(buildSpeechOptions(synth, hub)...)

	relay, err := buildRelay(flags)
	if err != nil {
		return err
	}
	sessionOpts := []session.Option{
		session.WithStore(st),
		session.WithSpeaker(speaker),
		session.WithTTL(flags.SessionTTL),
	}
	apiOpts := buildAPIOptions(flags, hub)
	if relay != nil {
		defer relay.Close()
		sessionOpts = append(sessionOpts, session.WithRelay(relay))
		apiOpts = append(apiOpts, api.WithRelayProvider(relay.Provider()))
	}
	sessions := session.NewService(sessionOpts...)
	defer sessions.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sessions.Run(ctx)

	slog.Info("Bootstrapping TalkingPrompt with configured modules",
		"synthesizer", speaker.SynthesizerName(), "websocket", hub != nil, "relay", relay != nil, "session_ttl", flags.SessionTTL)
	return api.NewServer(sessions, speaker, apiOpts...).Run(ctx)
}

// Config holds environment configuration
type Config struct {
	StateDir       string
	DatabaseURL    string
	APIAddr        string
	OpenAIKey      string
	TTSProvider    string
	TTSVoice       string
	KokoroEndpoint string
	RelayTo        string
	RelayProvider  string
	WhatsAppDBDSN  string
	SessionTTL     time.Duration
	AllowedOrigins []string
	Websocket      bool
	Debug          bool
}

// Flags holds the final configuration after command line overrides.
type Flags struct {
	Config
	QROutput    string
	NumericCode bool
}

// initializeLogger sets up structured logging on stdout.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:       os.Getenv("TALKINGPROMPT_STATE_DIR"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		APIAddr:        os.Getenv("API_ADDR"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		TTSProvider:    strings.ToLower(strings.TrimSpace(os.Getenv("TTS_PROVIDER"))),
		TTSVoice:       os.Getenv("TTS_VOICE"),
		KokoroEndpoint: os.Getenv("KOKORO_ENDPOINT"),
		RelayTo:        os.Getenv("RELAY_TO"),
		RelayProvider:  strings.ToLower(strings.TrimSpace(os.Getenv("RELAY_PROVIDER"))),
		WhatsAppDBDSN:  os.Getenv("WHATSAPP_DB_DSN"),
		SessionTTL:     util.ParseDurationEnv("SESSION_TTL", session.DefaultTTL),
		AllowedOrigins: util.ParseListEnv("ALLOWED_ORIGINS"),
		Websocket:      util.ParseBoolEnv("WEBSOCKET_ENABLED", true),
		Debug:          util.ParseBoolEnv("DEBUG", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No TALKINGPROMPT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.TTSProvider == "" {
		// OpenAI speech is used whenever a key is available.
		config.TTSProvider = TTSProviderNone
		if config.OpenAIKey != "" {
			config.TTSProvider = TTSProviderOpenAI
		}
	}
	if config.RelayTo != "" && config.RelayProvider == "" {
		config.RelayProvider = RelayProviderWhatsApp
	}

	slog.Debug("environment variables loaded",
		"TALKINGPROMPT_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"API_ADDR", config.APIAddr,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"TTS_PROVIDER", config.TTSProvider,
		"RELAY_PROVIDER", config.RelayProvider,
		"RELAY_TO_SET", config.RelayTo != "",
		"SESSION_TTL", config.SessionTTL,
		"ALLOWED_ORIGINS", config.AllowedOrigins)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config, args []string) (Flags, error) {
	fs := flag.NewFlagSet("TalkingPrompt", flag.ContinueOnError)
	flags := Flags{Config: config}
	fs.StringVar(&flags.StateDir, "state-dir", config.StateDir, "state directory for TalkingPrompt data (overrides $TALKINGPROMPT_STATE_DIR)")
	fs.StringVar(&flags.DatabaseURL, "db-dsn", config.DatabaseURL, "session store DSN, Postgres or SQLite path; empty keeps sessions in memory (overrides $DATABASE_URL)")
	fs.StringVar(&flags.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&flags.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&flags.TTSProvider, "tts-provider", config.TTSProvider, "server-side speech: openai, kokoro or none (overrides $TTS_PROVIDER)")
	fs.StringVar(&flags.TTSVoice, "tts-voice", config.TTSVoice, "voice for server-side speech (overrides $TTS_VOICE)")
	fs.StringVar(&flags.KokoroEndpoint, "kokoro-endpoint", config.KokoroEndpoint, "Kokoro speech endpoint (overrides $KOKORO_ENDPOINT)")
	fs.StringVar(&flags.RelayTo, "relay-to", config.RelayTo, "caregiver phone number to relay spoken sentences to (overrides $RELAY_TO)")
	fs.StringVar(&flags.RelayProvider, "relay-provider", config.RelayProvider, "relay provider: whatsapp or twilio (overrides $RELAY_PROVIDER)")
	fs.StringVar(&flags.WhatsAppDBDSN, "whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.DurationVar(&flags.SessionTTL, "session-ttl", config.SessionTTL, "idle time before a session ends; 0 disables expiry (overrides $SESSION_TTL)")
	fs.BoolVar(&flags.Websocket, "websocket", config.Websocket, "serve the websocket utterance feed (overrides $WEBSOCKET_ENABLED)")
	fs.StringVar(&flags.QROutput, "qr-output", "", "path to write the WhatsApp login QR code")
	fs.BoolVar(&flags.NumericCode, "numeric-code", false, "use numeric WhatsApp login code instead of QR code")
	origins := fs.String("allowed-origins", strings.Join(config.AllowedOrigins, ","), "comma-separated browser origins (overrides $ALLOWED_ORIGINS)")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	flags.AllowedOrigins = nil
	for _, o := range strings.Split(*origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			flags.AllowedOrigins = append(flags.AllowedOrigins, o)
		}
	}
	if flags.WhatsAppDBDSN == "" {
		flags.WhatsAppDBDSN = "file:" + filepath.Join(flags.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}

	slog.Debug("flags parsed",
		"stateDir", flags.StateDir,
		"dbDSN_set", flags.DatabaseURL != "",
		"apiAddr", flags.APIAddr,
		"ttsProvider", flags.TTSProvider,
		"relayProvider", flags.RelayProvider,
		"sessionTTL", flags.SessionTTL,
		"websocket", flags.Websocket)
	return flags, nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if flags.DatabaseURL == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return storeOpts
	}
	if store.DetectDSNType(flags.DatabaseURL) == store.DSNTypePostgres {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithPostgresDSN(flags.DatabaseURL))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", flags.DatabaseURL)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(flags.DatabaseURL))
	}
	return storeOpts
}

// buildSynthesizer returns the server-side synthesizer, or nil for none.
func buildSynthesizer(flags Flags) (speech.Synthesizer, error) {
	switch flags.TTSProvider {
	case TTSProviderNone, "":
		return nil, nil
	case TTSProviderOpenAI:
		opts := []speech.OpenAIOption{speech.WithAPIKey(flags.OpenAIKey)}
		if flags.TTSVoice != "" {
			opts = append(opts, speech.WithVoice(flags.TTSVoice))
		}
		synth, err := speech.NewOpenAISynthesizer(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to configure OpenAI speech: %w", err)
		}
		return synth, nil
	case TTSProviderKokoro:
		return speech.NewKokoroSynthesizer(flags.KokoroEndpoint, "", flags.TTSVoice), nil
	default:
		return nil, fmt.Errorf("unknown TTS provider %q", flags.TTSProvider)
	}
}

// buildSpeechOptions constructs speaker configuration options
func buildSpeechOptions(synth speech.Synthesizer, hub *speech.Hub) []speech.Option {
	var speechOpts []speech.Option
	if synth != nil {
		speechOpts = append(speechOpts, speech.WithSynthesizer(synth))
	}
	if hub != nil {
		speechOpts = append(speechOpts, speech.WithHub(hub))
	}
	return speechOpts
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if flags.QROutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(flags.QROutput))
	}
	if flags.NumericCode {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if flags.WhatsAppDBDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(flags.WhatsAppDBDSN))
	}
	return waOpts
}

// buildRelayService connects the configured relay provider.
func buildRelayService(flags Flags) (messaging.Service, error) {
	switch flags.RelayProvider {
	case RelayProviderWhatsApp:
		client, err := whatsapp.NewClient(buildWhatsAppOptions(flags)...)
		if err != nil {
			return nil, fmt.Errorf("failed to connect WhatsApp relay: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil
	case RelayProviderTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, fmt.Errorf("failed to configure Twilio relay: %w", err)
		}
		return messaging.NewTwilioService(client), nil
	default:
		return nil, fmt.Errorf("unknown relay provider %q", flags.RelayProvider)
	}
}

// buildRelay returns nil when no relay recipient is configured.
func buildRelay(flags Flags) (*messaging.Relay, error) {
	if flags.RelayTo == "" {
		return nil, nil
	}
	svc, err := buildRelayService(flags)
	if err != nil {
		return nil, err
	}
	relay, err := messaging.NewRelay(svc, flags.RelayTo)
	if err != nil {
		svc.Stop()
		return nil, err
	}
	return relay, nil
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, hub *speech.Hub) []api.Option {
	var apiOpts []api.Option
	if flags.APIAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(flags.APIAddr))
	}
	if len(flags.AllowedOrigins) > 0 {
		apiOpts = append(apiOpts, api.WithAllowedOrigins(flags.AllowedOrigins))
	}
	if hub != nil {
		apiOpts = append(apiOpts, api.WithHub(hub))
	}
	return apiOpts
}
