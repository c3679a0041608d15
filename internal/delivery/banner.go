package delivery

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const excerptLimit = 100

// Banner renders the context line prepended when a native quote is not possible
func Banner(s Snapshot) string {
	var sb strings.Builder

	who := s.SenderName
	if who == "" {
		who = "your"
	} else {
		who += "'s"
	}
	what := s.MediaType
	if what == "" {
		what = "message"
	}
	fmt.Fprintf(&sb, "> Replying to %s %s\n", who, what)

	if excerpt := strings.TrimSpace(s.Excerpt); excerpt != "" {
		fmt.Fprintf(&sb, "> \"%s\"\n", truncate(excerpt, excerptLimit))
	}
	sb.WriteString("\n")
	return sb.String()
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + "…"
}
