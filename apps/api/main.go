package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	echoapi "github.com/trezcool/masomo-chat/apps/api/echo"
	"github.com/trezcool/masomo-chat/core"
	"github.com/trezcool/masomo-chat/core/attachment"
	"github.com/trezcool/masomo-chat/core/chat"
	"github.com/trezcool/masomo-chat/core/user"
	appfs "github.com/trezcool/masomo-chat/fs"
	emailsvc "github.com/trezcool/masomo-chat/services/email"
	eventsvc "github.com/trezcool/masomo-chat/services/events"
	logsvc "github.com/trezcool/masomo-chat/services/logger"
	"github.com/trezcool/masomo-chat/storage/database"
	inmemdb "github.com/trezcool/masomo-chat/storage/database/inmem"
	sqlxrepos "github.com/trezcool/masomo-chat/storage/database/sqlx"
	"github.com/trezcool/masomo-chat/storage/objectstore"
)

type repositories struct {
	user   user.Repository
	chat   chat.Repository
	roster chat.Roster
	close  func() error
}

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()
	ctx := context.Background()

	// set up loggers
	logger := logsvc.NewRollbarLogger(logsvc.NewStdLogger(os.Stdout, conf).With().Str("component", "API").Logger(), conf)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(logsvc.NewStdLogger(os.Stdout, conf).With().Str("component", "DB").Logger(), conf)
	dbLogger.Enable(!conf.Debug)

	// set up DB
	repos, err := setUpRepositories(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = repos.close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	var publisher chat.Publisher = chat.NopPublisher{}
	if conf.Redis.URL != "" {
		client, err := eventsvc.NewRedisClient(ctx, conf.Redis.URL)
		if err != nil {
			logger.Fatal(fmt.Sprintf("connecting to redis: %v", err), err)
		}
		defer func() { _ = client.Close() }()
		publisher = eventsvc.NewRedisPublisher(client)
	}

	var store attachment.Store
	if conf.Attachments.NatsURL != "" {
		js, err := objectstore.NewJetStreamStore(ctx, conf.Attachments.NatsURL, conf.Attachments.Bucket)
		if err != nil {
			logger.Fatal(fmt.Sprintf("opening attachment store: %v", err), err)
		}
		defer js.Close()
		store = js
	} else {
		store = objectstore.NewMemoryStore()
	}

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	chat.InitValidators(validate, translator)

	usrSvc := user.NewService(repos.user)
	chatSvc := chat.NewService(chat.ServiceDeps{
		Repo:      repos.chat,
		Roster:    repos.roster,
		Users:     usrSvc,
		Publisher: publisher,
		MailSvc:   mailSvc,
		Validate:  validate,
		Logger:    logger,
		Conf:      conf.Chat,
	})
	attachmentSvc := attachment.NewService(store, conf.Attachments)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf, logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:          conf,
			Logger:        logger,
			UserSvc:       usrSvc,
			ChatSvc:       chatSvc,
			AttachmentSvc: attachmentSvc,
			Validate:      validate,
			Translator:    translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(ctx, conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpRepositories(ctx context.Context, conf *core.Config) (repositories, error) {
	if conf.Database.Engine == "inmem" {
		db := inmemdb.Open()
		return repositories{
			user:   inmemdb.NewUserRepository(db),
			chat:   inmemdb.NewChatRepository(db),
			roster: inmemdb.NewRosterRepository(db),
			close:  func() error { return nil },
		}, nil
	}

	db, err := setUpDB(ctx, conf)
	if err != nil {
		return repositories{}, err
	}
	return repositories{
		user:   sqlxrepos.NewUserRepository(db),
		chat:   sqlxrepos.NewChatRepository(db),
		roster: sqlxrepos.NewRosterRepository(db),
		close:  db.Close,
	}, nil
}

func setUpDB(ctx context.Context, conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db.DB, "up"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
