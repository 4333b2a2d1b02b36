package main

import (
	"context"
	"fmt"

	"github.com/trezcool/masomo-chat/core"
)

// enroll adds a user to a class roster so that they join future class rooms of that class.
func (cli *commandLine) enroll(classRef, className, uname string) error {
	ctx := context.Background()
	usr, err := cli.findUser(ctx, uname)
	if err != nil {
		return err
	}
	classRef = core.CleanString(classRef)
	if className = core.CleanString(className); className == "" {
		className = classRef
	}
	if err = cli.enroller.Enroll(ctx, classRef, className, usr.ID); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "%s enrolled in %s\n", usr.DisplayName(), classRef)
	return nil
}
