package engine

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/whisper/guardbot/internal/platform"
)

func warningText(u platform.User, level, of int) string {
	return fmt.Sprintf(
		"⚠️ <b>Warning</b>\n\n"+
			"👤 %s\n"+
			"❌ Used abusive language! (strike %d of %d)\n\n"+
			"<i>This behavior is not allowed.</i>",
		u.Mention(), level, of)
}

func muteText(u platform.User, d time.Duration) string {
	return fmt.Sprintf(
		"🚫 <b>Action Taken</b>\n\n"+
			"👤 <b>User:</b> %s\n"+
			"⏰ <b>Duration:</b> %s Mute\n"+
			"📝 <b>Reason:</b> Abusive Language\n\n"+
			"<i>Please maintain respectful conversation.</i>",
		u.Mention(), humanDuration(d))
}

func linkText(u platform.User, domains []string) string {
	var b strings.Builder
	b.WriteString("🔗 <b>Link Policy Violation</b>\n\n")
	fmt.Fprintf(&b, "👤 <b>User:</b> %s\n", u.Mention())
	b.WriteString("❌ <b>Posted:</b> Third-party link\n\n")
	b.WriteString("📋 <b>Allowed Domains:</b>\n")
	for _, d := range domains {
		fmt.Fprintf(&b, "   • %s\n", html.EscapeString(d))
	}
	b.WriteString("\n<i>Please use only approved links.</i>")
	return b.String()
}

// humanDuration renders whole hours or minutes: "2 Hours", "30 Minutes".
func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "Hour")
	case d >= time.Minute:
		return plural(int(d/time.Minute), "Minute")
	default:
		return plural(int(d/time.Second), "Second")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
