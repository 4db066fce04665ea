// Command oothd serves the authentication API as a standalone process. All
// configuration comes from the environment; with no variables set it runs an
// in-memory, session-only instance suitable for local development.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"golang.org/x/oauth2"

	ooth "github.com/nickredmark/ooth-sub000"
	"github.com/nickredmark/ooth-sub000/backend/memory"
	"github.com/nickredmark/ooth-sub000/backend/mongodb"
	"github.com/nickredmark/ooth-sub000/i18n"
	"github.com/nickredmark/ooth-sub000/mailer"
	"github.com/nickredmark/ooth-sub000/sessionstore"
	"github.com/nickredmark/ooth-sub000/strategies/guest"
	"github.com/nickredmark/ooth-sub000/strategies/jwtauth"
	"github.com/nickredmark/ooth-sub000/strategies/local"
	"github.com/nickredmark/ooth-sub000/strategies/oauth"
	"github.com/nickredmark/ooth-sub000/strategies/profile"
	"github.com/nickredmark/ooth-sub000/strategies/roles"
)

type config struct {
	Addr     string `env:"OOTH_ADDR" envDefault:":8080"`
	BasePath string `env:"OOTH_BASE_PATH" envDefault:"/auth"`
	SiteName string `env:"OOTH_SITE_NAME" envDefault:"Ooth"`
	Debug    bool   `env:"OOTH_DEBUG"`

	// Token mode is enabled by setting a shared secret.
	SharedSecret string        `env:"OOTH_SHARED_SECRET"`
	TokenExpiry  time.Duration `env:"OOTH_TOKEN_EXPIRY" envDefault:"24h"`

	SessionLifetime time.Duration `env:"OOTH_SESSION_LIFETIME" envDefault:"720h"`

	// With MongoURI unset, users live in memory and vanish on restart.
	MongoURI string `env:"OOTH_MONGO_URI"`
	MongoDB  string `env:"OOTH_MONGO_DB" envDefault:"ooth"`

	// With RedisURL set, sessions are stored in Redis instead of memory.
	RedisURL string `env:"OOTH_REDIS_URL"`

	SMTPHost     string `env:"OOTH_SMTP_HOST"`
	SMTPPort     int    `env:"OOTH_SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"OOTH_SMTP_USERNAME"`
	SMTPPassword string `env:"OOTH_SMTP_PASSWORD"`
	MailFrom     string `env:"OOTH_MAIL_FROM"`
	VerifyURL    string `env:"OOTH_VERIFY_URL"`
	ResetURL     string `env:"OOTH_RESET_URL"`

	GoogleClientID     string `env:"OOTH_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"OOTH_GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"OOTH_GOOGLE_REDIRECT_URL"`
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg := config{}
	if err := env.Parse(&cfg); err != nil {
		logger.Fatal().Err(err).Msg("parsing environment")
	}
	if cfg.Debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("oothd exited")
	}
}

func run(ctx context.Context, cfg config, logger zerolog.Logger) error {
	backend, closeBackend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	sessions := scs.New()
	sessions.Lifetime = cfg.SessionLifetime
	sessions.Cookie.Name = "ooth_session"
	sessions.Cookie.HttpOnly = true
	sessions.Cookie.SameSite = http.SameSiteLaxMode
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		client := redis.NewClient(opts)
		defer client.Close()
		sessions.Store = sessionstore.New(client)
		logger.Info().Msg("sessions stored in redis")
	}

	o, err := ooth.New(ooth.Config{
		Backend:      backend,
		Sessions:     sessions,
		SharedSecret: cfg.SharedSecret,
		TokenExpiry:  cfg.TokenExpiry,
		Translator:   i18n.New(),
		Logger:       &logger,
	})
	if err != nil {
		return err
	}

	strategies := []ooth.Strategy{
		local.New(local.Options{}),
		guest.New(),
		roles.New(),
		profile.New(),
	}
	if cfg.SharedSecret != "" {
		strategies = append(strategies, jwtauth.New())
	}
	if cfg.GoogleClientID != "" {
		strategies = append(strategies, oauth.New(oauth.Provider{
			Name: "google",
			Config: &oauth2.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				RedirectURL:  cfg.GoogleRedirectURL,
				Scopes:       []string{"openid", "email", "profile"},
				Endpoint: oauth2.Endpoint{
					AuthURL:  "https://accounts.google.com/o/oauth2/auth",
					TokenURL: "https://oauth2.googleapis.com/token",
				},
			},
			UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
			MapClaims:   oauth.StandardClaims,
		}))
	}
	if err := o.Use(strategies...); err != nil {
		return err
	}

	if cfg.SMTPHost != "" {
		m := mailer.New(mailer.Config{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUsername,
			Password:  cfg.SMTPPassword,
			From:      cfg.MailFrom,
			SiteName:  cfg.SiteName,
			VerifyURL: cfg.VerifyURL,
			ResetURL:  cfg.ResetURL,
		}, logger)
		m.Attach(o)
	} else {
		logger.Warn().Msg("no SMTP host configured, verification mail disabled")
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	router.Mount(cfg.BasePath, http.StripPrefix(cfg.BasePath, o.Handler()))

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("base", cfg.BasePath).Msg("oothd listening")
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	logger.Info().Msg("oothd stopped")
	return nil
}

func newBackend(ctx context.Context, cfg config, logger zerolog.Logger) (ooth.Backend, func(), error) {
	if cfg.MongoURI == "" {
		logger.Warn().Msg("no mongo URI configured, users stored in memory")
		return memory.New(), func() {}, nil
	}
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		closeFn()
		return nil, nil, err
	}
	logger.Info().Str("db", cfg.MongoDB).Msg("users stored in mongodb")
	return mongodb.New(client.Database(cfg.MongoDB)), closeFn, nil
}
