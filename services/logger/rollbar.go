package logsvc

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"github.com/rs/zerolog"

	"github.com/trezcool/masomo-chat/core"
	"github.com/trezcool/masomo-chat/core/user"
)

// RollbarLogger reports to Rollbar and mirrors every entry to a zerolog logger.
type RollbarLogger struct {
	std zerolog.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std zerolog.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{std: std}
}

// NewStdLogger returns the zerolog logger the app writes to: human readable on a terminal in debug mode, JSON otherwise.
func NewStdLogger(w io.Writer, conf *core.Config) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	if conf.Debug {
		level = zerolog.DebugLevel
		if f, ok := w.(*os.File); ok && f == os.Stderr {
			w = zerolog.ConsoleWriter{Out: w}
		}
	}
	return zerolog.New(w).Level(level).With().
		Timestamp().
		Str("app", conf.AppName).
		Str("env", conf.Env).
		Logger()
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// expected fmt: msg | error, map[string]interface{}, user.User
// The user travels with the item as a person context; rollbar.SetPerson is global to the process.
func (l RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	var usrSet bool
	newArgs := make([]interface{}, 0, len(args)+2)
	newArgs = append(newArgs, msg)
	for _, arg := range args {
		if usr, ok := arg.(user.User); ok {
			if !usrSet { // only one User
				person := &rollbar.Person{Id: usr.ID, Username: usr.Username, Email: usr.Email}
				newArgs = append(newArgs, rollbar.NewPersonContext(context.Background(), person))
				usrSet = true
			}
		} else {
			newArgs = append(newArgs, arg)
		}
	}
	return newArgs
}

func (l RollbarLogger) write(evt *zerolog.Event, msg string, args []interface{}) {
	var usrSet bool
	for _, arg := range args {
		switch v := arg.(type) {
		case error:
			evt = evt.Err(v)
		case map[string]interface{}:
			evt = evt.Fields(v)
		case user.User:
			if !usrSet {
				evt = evt.Str("user_id", v.ID).Str("username", v.Username)
				usrSet = true
			}
		default:
			evt = evt.Str("extra", fmt.Sprintf("%+v", v))
		}
	}
	evt.Msg(msg)
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rollbar.Debug(l.prepare(msg, args)...)
	l.write(l.std.Debug(), msg, args)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rollbar.Info(l.prepare(msg, args)...)
	l.write(l.std.Info(), msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	l.write(l.std.Warn(), msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	l.write(l.std.Error(), msg, args)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(l.prepare(msg, args)...)
	rollbar.Wait()
	l.write(l.std.Fatal(), msg, args) // exits
}
