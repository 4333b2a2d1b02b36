package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/trezcool/masomo-chat/core/chat"
)

// listRooms prints the rooms of a user as a table, most recently active first.
func (cli *commandLine) listRooms(uname string) error {
	ctx := context.Background()
	usr, err := cli.findUser(ctx, uname)
	if err != nil {
		return err
	}
	rooms, err := cli.chatSvc.ListRoomsForUser(ctx, usr.ID)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(cli.out)
	table.SetHeader([]string{"ID", "Type", "Name", "Members", "Messages", "Unread"})
	table.SetAutoWrapText(false)
	for _, r := range rooms {
		members := lo.Map(r.Participants, func(p chat.Participant, _ int) string { return p.Name })
		table.Append([]string{
			r.ID,
			string(r.Type),
			r.DisplayName,
			strings.Join(members, ", "),
			strconv.FormatInt(r.LastSequence, 10),
			strconv.FormatInt(r.UnreadCount, 10),
		})
	}
	table.Render()
	return nil
}
