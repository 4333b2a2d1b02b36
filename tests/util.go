package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/trezcool/masomo-chat/core"
	"github.com/trezcool/masomo-chat/core/user"
	logsvc "github.com/trezcool/masomo-chat/services/logger"
	"github.com/trezcool/masomo-chat/storage/database"
)

// NewConfig loads the TEST config.
func NewConfig() *core.Config {
	if os.Getenv("ENV") == "" {
		_ = os.Setenv("ENV", "TEST")
	}
	conf := core.NewConfig()
	conf.TestMode = true
	return conf
}

// NewLogger returns a logger writing to the test log, with Rollbar disabled.
func NewLogger(t testing.TB, conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.WarnLevel), conf)
	logger.Enable(false)
	return logger
}

// PrepareDB returns a freshly migrated postgres database; the test is skipped unless TEST_DATABASE_ENGINE=postgres.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	conf := NewConfig()
	if conf.Database.Engine != "postgres" {
		t.Skip("postgres not configured (set TEST_DATABASE_ENGINE=postgres)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		t.Skipf("postgres unreachable: %v", err)
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		t.Skipf("postgres unreachable: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db.DB, "reset"); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	if err = database.Migrate(db.DB, "up"); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC().Truncate(time.Microsecond)
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC().Truncate(time.Microsecond)
	}
	if roles == nil {
		roles = []string{}
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}
