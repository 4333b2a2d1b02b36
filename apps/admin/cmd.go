package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	"golang.org/x/term"

	"github.com/trezcool/masomo-chat/core/chat"
	"github.com/trezcool/masomo-chat/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db       *sql.DB
	usrRepo  user.Repository
	usrSvc   *user.Service
	chatSvc  *chat.Service
	enroller chat.Enroller
	validate *validator.Validate
	out      io.Writer
}

func (cli *commandLine) printUsage() {
	_, _ = fmt.Fprintln(cli.out, "Usage:")
	_, _ = fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (up, up-by-one, up-to, down, down-to, redo, reset, status, version)")
	_, _ = fmt.Fprintln(cli.out, "  adduser -name NAME -username USERNAME -email EMAIL [-admin] [-role ROLE] - create or update a user")
	_, _ = fmt.Fprintln(cli.out, "  resetpassword -username USERNAME|EMAIL - reset user's password")
	_, _ = fmt.Fprintln(cli.out, "  rooms -username USERNAME|EMAIL - list the chat rooms of a user")
	_, _ = fmt.Fprintln(cli.out, "  enroll -class REF -name NAME -username USERNAME|EMAIL - add a user to a class roster")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserUname := addUserCmd.String("username", "", "The user's username.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Grant all roles to the user.")
	addUserRole := addUserCmd.String("role", "", "Comma separated roles, e.g. teacher: or student:")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	roomsCmd := flag.NewFlagSet("rooms", flag.ContinueOnError)
	roomsUname := roomsCmd.String("username", "", "The user's username or email.")

	enrollCmd := flag.NewFlagSet("enroll", flag.ContinueOnError)
	enrollClass := enrollCmd.String("class", "", "The class reference, e.g. C101.")
	enrollName := enrollCmd.String("name", "", "The class name; used when the class does not exist yet.")
	enrollUname := enrollCmd.String("username", "", "The student's username or email.")

	for _, fs := range []*flag.FlagSet{addUserCmd, resetPasswordCmd, roomsCmd, enrollCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addUserUname == "" && *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		var roles []string
		if *addUserRole != "" {
			roles = strings.Split(*addUserRole, ",")
		}
		return cli.addUser(*addUserName, *addUserUname, *addUserEmail, pwd, *addUserAdmin, roles)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	case "rooms":
		if err := roomsCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *roomsUname == "" {
			roomsCmd.Usage()
			return errHelp
		}
		return cli.listRooms(*roomsUname)

	case "enroll":
		if err := enrollCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *enrollClass == "" || *enrollUname == "" {
			enrollCmd.Usage()
			return errHelp
		}
		return cli.enroll(*enrollClass, *enrollName, *enrollUname)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) promptPassword() (string, error) {
	_, _ = fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	_, _ = fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}
