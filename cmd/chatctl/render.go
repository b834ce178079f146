package main

import (
	"chat-relay/domain"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

var statusColours = map[domain.Status]color.Color{
	domain.StatusSent:      color.FgYellow,
	domain.StatusDelivered: color.FgCyan,
	domain.StatusRead:      color.FgGreen,
}

func renderStatusRows(w io.Writer, views []domain.StatusView, colours bool) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Seq", "Message", "Conversation", "Sender", "Status", "Created", "Delivered", "Read", "Content"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, view := range views {
		status := string(view.Row.Status)
		if c, ok := statusColours[view.Row.Status]; ok && colours {
			status = c.Render(status)
		}
		id := view.Message.ID.String()
		if len(id) > 8 {
			id = id[:8]
		}
		table.Append([]string{
			strconv.FormatInt(view.Message.Seq, 10),
			id,
			string(view.Message.ConversationID),
			view.Sender.Name,
			status,
			view.Message.CreatedAt.Format("15:04:05"),
			clock(view.Row.DeliveredAt),
			clock(view.Row.ReadAt),
			view.Message.Content,
		})
	}
	table.Render()
}

// renderConversation prints the header shown above a filtered listing.
func renderConversation(w io.Writer, c domain.Conversation) {
	members := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		members = append(members, string(p))
	}
	_, _ = fmt.Fprintf(w, "Conversation %s  participants: %s  created: %s  updated: %s\n\n",
		c.ID,
		strings.Join(members, ", "),
		c.CreatedAt.Format(time.RFC3339),
		c.UpdatedAt.Format(time.RFC3339))
}

func clock(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("15:04:05")
}
