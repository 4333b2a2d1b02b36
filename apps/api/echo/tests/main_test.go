package tests

import (
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	echoapi "github.com/trezcool/masomo-chat/apps/api/echo"
	"github.com/trezcool/masomo-chat/core"
	"github.com/trezcool/masomo-chat/core/attachment"
	"github.com/trezcool/masomo-chat/core/chat"
	"github.com/trezcool/masomo-chat/core/user"
	appfs "github.com/trezcool/masomo-chat/fs"
	emailsvc "github.com/trezcool/masomo-chat/services/email"
	inmemdb "github.com/trezcool/masomo-chat/storage/database/inmem"
	"github.com/trezcool/masomo-chat/storage/objectstore"
	"github.com/trezcool/masomo-chat/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testEnv struct {
	app     *echoapi.Server
	conf    *core.Config
	usrRepo user.Repository
	roster  interface {
		SetRoster(classRef string, userIDs ...string)
	}
	mailSvc *emailsvc.ConsoleServiceMock
}

// setup starts a server on fresh in-memory repositories; configure may tweak the config first.
func setup(t *testing.T, configure ...func(conf *core.Config)) *testEnv {
	conf := testutil.NewConfig()
	conf.Server.RateLimit = 1000
	conf.Server.RateBurst = 1000
	conf.Attachments.MaxSize = 1 << 10
	conf.Attachments.BaseURL = "http://files.test"
	for _, fn := range configure {
		fn(conf)
	}
	logger := testutil.NewLogger(t, conf)

	validate := validator.New()
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	chat.InitValidators(validate, translator)
	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf, logger)

	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	roster := inmemdb.NewRosterRepository(db)
	usrSvc := user.NewService(usrRepo)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)

	app := echoapi.NewServer(echoapi.ServerDeps{
		Conf:    conf,
		Logger:  logger,
		UserSvc: usrSvc,
		ChatSvc: chat.NewService(chat.ServiceDeps{
			Repo:     inmemdb.NewChatRepository(db),
			Roster:   roster,
			Users:    usrSvc,
			MailSvc:  mailSvc,
			Validate: validate,
			Logger:   logger,
			Conf:     conf.Chat,
		}),
		AttachmentSvc:  attachment.NewService(objectstore.NewMemoryStore(), conf.Attachments),
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	})
	t.Cleanup(func() { _ = app.Close() })

	return &testEnv{
		app:     app,
		conf:    conf,
		usrRepo: usrRepo,
		roster:  roster,
		mailSvc: mailSvc,
	}
}

func (env *testEnv) createUser(t *testing.T, name, uname, pwd string, roles ...string) (user.User, string) {
	usr := testutil.CreateUser(t, env.usrRepo, name, uname, uname+"@test.cd", pwd, roles, true)
	return usr, getToken(t, env.app, usr)
}
