package messaging

import (
	"strconv"
	"strings"

	"github.com/BTreeMap/SupportPipe/internal/flow"
)

// Render flattens a reply into plain text; options become a numbered list
// because the transports carry no buttons.
func Render(reply flow.Reply) string {
	if len(reply.Options) == 0 {
		return reply.Text
	}
	var b strings.Builder
	b.WriteString(reply.Text)
	b.WriteString("\n")
	for i, opt := range reply.Options {
		b.WriteString("\n")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(opt)
	}
	return b.String()
}

// ResolveChoice maps a numeric reply such as "2" to the option it numbers.
// Anything else is returned unchanged.
func ResolveChoice(text string, options []string) string {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(text), "."))
	if err != nil || n < 1 || n > len(options) {
		return text
	}
	return options[n-1]
}
