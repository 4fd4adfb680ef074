package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Seednode/captionparty/games/captions"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	bind           string
	port           int
	prefix         string
	profile        bool
	sessionTimeout time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool

	maxPlayers       int
	minPlayers       int
	rounds           int
	captionTime      time.Duration
	votingTime       time.Duration
	resultsTime      time.Duration
	maxCaptionLength int

	uploadDir   string
	uploadLimit int64
	publicURL   string

	eventRate  float64
	eventBurst int

	stompAddr  string
	stompUser  string
	stompPass  string
	stompTopic string

	logger *zap.Logger
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.rounds < 1 {
		return fmt.Errorf("invalid round count (must be at least 1): %d", c.rounds)
	}
	if c.minPlayers < 1 {
		return fmt.Errorf("invalid minimum player count (must be at least 1): %d", c.minPlayers)
	}
	if c.maxPlayers < c.minPlayers {
		return fmt.Errorf("maximum players (%d) must not be less than minimum players (%d)", c.maxPlayers, c.minPlayers)
	}
	if c.captionTime <= 0 || c.votingTime <= 0 || c.resultsTime <= 0 {
		return errors.New("phase durations must be positive")
	}
	if c.maxCaptionLength < 1 {
		return fmt.Errorf("invalid maximum caption length (must be at least 1): %d", c.maxCaptionLength)
	}
	if c.uploadLimit <= 0 {
		return fmt.Errorf("invalid upload limit (must be positive): %d", c.uploadLimit)
	}
	if c.eventRate <= 0 || c.eventBurst < 1 {
		return errors.New("--event-rate and --event-burst must be positive")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) rules() captions.Rules {
	r := captions.DefaultRules()
	r.MaxPlayers = c.maxPlayers
	r.MinPlayers = c.minPlayers
	r.TotalRounds = c.rounds
	r.CaptionDuration = c.captionTime
	r.VotingDuration = c.votingTime
	r.ResultsDuration = c.resultsTime
	r.MaxCaptionLength = c.maxCaptionLength
	return r
}

func (c *Config) log() *zap.Logger {
	if c.logger == nil {
		return zap.NewNop()
	}
	return c.logger
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CAPTIONPARTY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "captionparty",
		Short:         "A real-time caption party game, served over websockets.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}

			logger, err := newLogger(cfg.verbose)
			if err != nil {
				return err
			}
			cfg.logger = logger
			defer func() { _ = logger.Sync() }()

			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: CAPTIONPARTY_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 3001, "port to listen on (env: CAPTIONPARTY_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: CAPTIONPARTY_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: CAPTIONPARTY_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle lobbies are closed, 0 to disable (env: CAPTIONPARTY_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: CAPTIONPARTY_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: CAPTIONPARTY_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: CAPTIONPARTY_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: CAPTIONPARTY_VERSION)")

	fs.IntVar(&cfg.maxPlayers, "max-players", 8, "maximum players per lobby (env: CAPTIONPARTY_MAX_PLAYERS)")
	fs.IntVar(&cfg.minPlayers, "min-players", 3, "players required to start a game (env: CAPTIONPARTY_MIN_PLAYERS)")
	fs.IntVar(&cfg.rounds, "rounds", 5, "rounds per game (env: CAPTIONPARTY_ROUNDS)")
	fs.DurationVar(&cfg.captionTime, "caption-time", 60*time.Second, "length of the caption phase (env: CAPTIONPARTY_CAPTION_TIME)")
	fs.DurationVar(&cfg.votingTime, "voting-time", 30*time.Second, "length of the voting phase (env: CAPTIONPARTY_VOTING_TIME)")
	fs.DurationVar(&cfg.resultsTime, "results-time", 10*time.Second, "time results are shown before the next round (env: CAPTIONPARTY_RESULTS_TIME)")
	fs.IntVar(&cfg.maxCaptionLength, "max-caption-length", 200, "maximum caption length in characters (env: CAPTIONPARTY_MAX_CAPTION_LENGTH)")

	fs.StringVar(&cfg.uploadDir, "upload-dir", "uploads", "directory uploaded images are stored in (env: CAPTIONPARTY_UPLOAD_DIR)")
	fs.Int64Var(&cfg.uploadLimit, "upload-limit", 5*1000*1000, "maximum upload size in bytes (env: CAPTIONPARTY_UPLOAD_LIMIT)")
	fs.StringVar(&cfg.publicURL, "public-url", "", "base URL used in uploaded image links, defaults to the request host (env: CAPTIONPARTY_PUBLIC_URL)")

	fs.Float64Var(&cfg.eventRate, "event-rate", 10, "websocket events per second allowed per connection (env: CAPTIONPARTY_EVENT_RATE)")
	fs.IntVar(&cfg.eventBurst, "event-burst", 20, "websocket event burst allowed per connection (env: CAPTIONPARTY_EVENT_BURST)")

	fs.StringVar(&cfg.stompAddr, "stomp-addr", "", "mirror lobby events to this STOMP broker (env: CAPTIONPARTY_STOMP_ADDR)")
	fs.StringVar(&cfg.stompUser, "stomp-user", "", "STOMP login (env: CAPTIONPARTY_STOMP_USER)")
	fs.StringVar(&cfg.stompPass, "stomp-pass", "", "STOMP passcode (env: CAPTIONPARTY_STOMP_PASS)")
	fs.StringVar(&cfg.stompTopic, "stomp-topic", "/topic/captionparty", "STOMP destination prefix (env: CAPTIONPARTY_STOMP_TOPIC)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("captionparty v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
