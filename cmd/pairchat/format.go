package main

import (
	"fmt"
	"strings"

	"github.com/alexjbarnes/pairchat/internal/app"
	"github.com/alexjbarnes/pairchat/internal/chat"
	"github.com/alexjbarnes/pairchat/internal/cloudsync"
	"github.com/alexjbarnes/pairchat/internal/models"
	"github.com/dustin/go-humanize"
)

// previewLen caps the last-message preview in `recent`.
const previewLen = 60

func formatIdentity(id *models.Identity) string {
	if id.DisplayName == "" {
		return id.ID
	}

	return fmt.Sprintf("%s <%s>", id.DisplayName, id.ID)
}

func formatPeer(c *app.Client, peer string) string {
	if p, ok := c.Profile(peer); ok && p.DisplayName != "" {
		return fmt.Sprintf("%s <%s>", p.DisplayName, peer)
	}

	return peer
}

func formatMessage(self *models.Identity, m models.Message) string {
	who := m.SenderName
	if self != nil && chat.NormalizeID(m.From) == self.ID {
		who = "you"
	}

	if who == "" {
		who = chat.HumanizeID(m.From)
	}

	return fmt.Sprintf("[%s] %s: %s", m.SentAt().Local().Format("Jan 2 15:04"), who, m.Text)
}

func formatSummary(s chat.Summary) string {
	preview := strings.ReplaceAll(s.Last.Text, "\n", " ")
	if r := []rune(preview); len(r) > previewLen {
		preview = string(r[:previewLen-1]) + "…"
	}

	noun := "messages"
	if s.Count == 1 {
		noun = "message"
	}

	return fmt.Sprintf("%s <%s>  %s  (%s, %s %s)",
		s.DisplayName, s.PeerID, preview,
		humanize.Time(s.Last.SentAt()), humanize.Comma(int64(s.Count)), noun)
}

func formatStatus(status cloudsync.Status, lastErr error, needsManual bool, unsent int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Sync status: %s", status)

	if unsent > 0 {
		noun := "messages"
		if unsent == 1 {
			noun = "message"
		}

		fmt.Fprintf(&b, "\n%s %s waiting to upload", humanize.Comma(int64(unsent)), noun)
	}

	if lastErr != nil {
		fmt.Fprintf(&b, "\nLast error: %s", cloudsync.Describe(lastErr))
	}

	if needsManual {
		b.WriteString("\nCloud sync is not authorized. Run `pairchat sync`.")
	}

	return b.String()
}
