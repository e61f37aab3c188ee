package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	raven "github.com/getsentry/raven-go"
	"github.com/go-redis/redis"
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/sirenlabs/siren/api"
	"github.com/sirenlabs/siren/crawlers"
	"github.com/sirenlabs/siren/crawlers/leakedzone"
	"github.com/sirenlabs/siren/crawlers/onlyfans"
	"github.com/sirenlabs/siren/crawlers/twitter"
	"github.com/sirenlabs/siren/dispatcher"
	"github.com/sirenlabs/siren/metrics"
	"github.com/sirenlabs/siren/pkg/logging"
	"github.com/sirenlabs/siren/pkg/scheduler"
	"github.com/sirenlabs/siren/service"
	"github.com/sirenlabs/siren/store"
)

const (
	// ServiceName is the name of the service
	ServiceName = "worker"
)

func main() {
	// init config
	var config config
	err := envconfig.Process("", &config)
	if err != nil {
		panic(errors.Wrap(err, "unable to load configuration"))
	}

	// init logger
	logger, err := logging.NewLogger(config.Environment, ServiceName)
	if err != nil {
		panic(errors.Wrap(err, "unable to initialise logger"))
	}
	defer logger.Sync() // nolint: errcheck

	// init error tracking
	if config.SentryDSN != "" {
		err = raven.SetDSN(config.SentryDSN)
		if err != nil {
			logger.Error("unable to initialise error tracking",
				zap.Error(err),
			)
		}
	}

	// init redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddress,
		Password: config.RedisPassword,
	})
	_, err = redisClient.Ping().Result()
	if err != nil {
		logger.Fatal("unable to connect to Redis",
			zap.Error(err),
		)
	}

	// init GORM
	gormDB, err := gorm.Open("postgres", config.DBDSN)
	if err != nil {
		logger.Fatal("unable to initialise GORM session",
			zap.Error(err),
		)
	}
	defer gormDB.Close() // nolint: errcheck

	dataStore, err := store.New(gormDB)
	if err != nil {
		logger.Fatal("unable to initialise store",
			zap.Error(err),
		)
	}

	// init metrics
	metrics.Init()

	// init crawlers
	registry := crawlers.NewRegistry(
		logger.With(zap.String("feature", "registry")),
		onlyfans.New(nil, ""),
		leakedzone.New(config.LeakedZoneBaseURL, config.LeakedZoneTags),
		twitter.New(nil, config.TwitterMirrorURL),
	)
	registry.Init(dataStore)

	// init Discord session, REST only
	session, err := discordgo.New("Bot " + config.DiscordToken)
	if err != nil {
		logger.Fatal("unable to initialise Discord session",
			zap.Error(err),
		)
	}

	notifier := dispatcher.New(
		logger.With(zap.String("feature", "dispatcher")),
		session,
		config.DiscordChannelID,
	)

	// init service boundaries
	refreshCommands := map[string]service.RefreshCommand{}
	if config.LZRefreshCommand != "" {
		refreshCommands[leakedzone.Platform] = service.RefreshCommand{
			Name:           config.LZRefreshCommand,
			Args:           config.LZRefreshArgs,
			CredentialFile: config.LZRefreshFile,
		}
	}

	svc := service.New(
		logger.With(zap.String("feature", "service")),
		dataStore,
		registry,
		refreshCommands,
	)

	// init scheduler
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(
		logger.With(zap.String("feature", "scheduler")),
		registry,
		dataStore,
		store.NewRedisSeenStore(redisClient),
		notifier,
		redisClient,
		config.CheckInterval,
	)
	go sched.Start(ctx)

	// init http server
	httpRouter := api.NewRouter(
		logger.With(zap.String("feature", "api")),
		svc,
	)
	httpServer := api.NewHTTPServer(config.Port, httpRouter)

	go func() {
		err := httpServer.ListenAndServe()
		if err != http.ErrServerClosed {
			logger.Fatal("http server error",
				zap.Error(err),
				zap.String("feature", "http-server"),
			)
		}
	}()

	logger.Info("service is running",
		zap.Int("port", config.Port),
		zap.Duration("check_interval", config.CheckInterval),
	)

	// wait for CTRL+C to stop the service
	quitChannel := make(chan os.Signal, 1)
	signal.Notify(quitChannel, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-quitChannel

	// shutdown features
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	err = httpServer.Shutdown(shutdownCtx)
	if err != nil {
		logger.Error("unable to shutdown HTTP Server",
			zap.Error(err),
		)
	}

	// give the in-flight tick a moment to finish its current statement
	time.Sleep(time.Second)
}
