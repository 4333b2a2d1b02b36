package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-chat/core"
	"github.com/trezcool/masomo-chat/core/chat"
	"github.com/trezcool/masomo-chat/core/user"
	logsvc "github.com/trezcool/masomo-chat/services/logger"
	"github.com/trezcool/masomo-chat/storage/database"
	sqlxrepos "github.com/trezcool/masomo-chat/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	ctx := context.Background()

	logger := logsvc.NewRollbarLogger(logsvc.NewStdLogger(os.Stderr, conf).With().Str("component", "ADMIN").Logger(), conf)
	logger.Enable(!conf.Debug)

	if conf.Database.Engine == "inmem" {
		logger.Fatal("the admin CLI needs a persistent database (DATABASE_ENGINE=postgres)")
	}

	// set up DB
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	validate := validator.New()
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	chat.InitValidators(validate, translator)
	user.LoadCommonPasswords(filepath.Join(conf.WorkDir, "assets", "common-passwords.txt.gz"), logger)

	usrRepo := sqlxrepos.NewUserRepository(db)
	usrSvc := user.NewService(usrRepo)
	roster := sqlxrepos.NewRosterRepository(db)

	// start CLI
	cli := commandLine{
		db:      db.DB,
		usrRepo: usrRepo,
		usrSvc:  usrSvc,
		chatSvc: chat.NewService(chat.ServiceDeps{
			Repo:     sqlxrepos.NewChatRepository(db),
			Roster:   roster,
			Users:    usrSvc,
			Validate: validate,
			Logger:   logger,
			Conf:     conf.Chat,
		}),
		enroller: roster,
		validate: validate,
		out:      os.Stdout,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %s", err), err)
		}
		os.Exit(1)
	}
}
