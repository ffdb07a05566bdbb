package main

import (
	"errors"
	"time"

	"github.com/md-rashed-zaman/tutorslots/libs/config"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/booking"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/cache"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/trials"
)

type settings struct {
	service  string
	port     string
	grpcPort string

	databaseURL string
	autoMigrate bool
	seedDemo    bool

	redisAddr     string
	redisPassword string
	redisDB       int
	profileTTL    time.Duration

	kafkaBrokers string
	kafkaGroupID string

	jwtSecret string
	jwksURL   string
	jwksTTL   time.Duration

	booking booking.Config

	rateLimitPerMinute int
	rateLimitFailOpen  bool
	bodyLimit          int64
	requestTimeout     time.Duration
	cors               []string
	corsMaxAge         time.Duration
}

// loadSettings reads the environment and reports every malformed key at once.
func loadSettings() (settings, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	s := settings{
		service:       config.String("SERVICE_NAME", "availability-service"),
		autoMigrate:   config.Bool("DB_AUTO_MIGRATE", true),
		seedDemo:      config.Bool("SEED_DEMO", false),
		redisAddr:     config.String("REDIS_ADDR", ""),
		redisPassword: config.String("REDIS_PASSWORD", ""),
		kafkaBrokers:  config.String("KAFKA_BROKERS", ""),
		kafkaGroupID:  config.String("KAFKA_GROUP_ID", "availability-service"),
		jwtSecret:     config.String("JWT_SECRET", "dev-secret"),
		jwksURL:       config.String("JWKS_URL", ""),
		cors:          config.List("CORS_ALLOWED_ORIGINS", ""),
	}

	var err error
	s.port, err = config.Port("PORT", "8080")
	collect(err)
	s.grpcPort, err = config.Port("GRPC_PORT", "9090")
	collect(err)
	s.databaseURL, err = config.RequiredString("DATABASE_URL")
	collect(err)
	s.redisDB, err = config.Int("REDIS_DB", 0)
	collect(err)
	s.profileTTL, err = config.Seconds("PROFILE_CACHE_TTL_SECONDS", cache.DefaultTTL)
	collect(err)
	s.jwksTTL, err = config.Seconds("JWKS_CACHE_SECONDS", 5*time.Minute)
	collect(err)

	globalCap, err := config.Int("TRIAL_GLOBAL_CAP", trials.DefaultGlobalCap)
	collect(err)
	perTutorCap, err := config.Int("TRIAL_PER_TUTOR_CAP", trials.DefaultPerTutorCap)
	collect(err)
	s.booking.Policy = trials.Policy{GlobalCap: globalCap, PerTutorCap: perTutorCap}
	collect(s.booking.Policy.Validate())

	stepMinutes, err := config.PositiveInt("DEFAULT_SLOT_INTERVAL_MINUTES", int(booking.DefaultSlotInterval/time.Minute))
	collect(err)
	s.booking.DefaultSlotInterval = time.Duration(stepMinutes) * time.Minute
	s.booking.MaxWindowDays, err = config.PositiveInt("MAX_SLOT_WINDOW_DAYS", booking.DefaultMaxWindowDays)
	collect(err)

	s.rateLimitPerMinute, err = config.PositiveInt("RATE_LIMIT_PER_MINUTE", 120)
	collect(err)
	s.rateLimitFailOpen = config.Bool("RATE_LIMIT_FAIL_OPEN", true)
	bodyLimit, err := config.PositiveInt("REQUEST_BODY_LIMIT_BYTES", 1<<20)
	collect(err)
	s.bodyLimit = int64(bodyLimit)
	s.requestTimeout, err = config.Seconds("REQUEST_TIMEOUT_SECONDS", 10*time.Second)
	collect(err)
	s.corsMaxAge, err = config.Seconds("CORS_MAX_AGE_SECONDS", 10*time.Minute)
	collect(err)

	return s, errors.Join(errs...)
}
