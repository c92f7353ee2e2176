// Package mime provides MIME message parsing using enmime.
package mime

import (
	"bytes"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// Message represents a parsed email message.
type Message struct {
	Subject        string
	Date           time.Time
	From           []Address
	To             []Address
	Cc             []Address
	Bcc            []Address
	MessageID      string
	InReplyTo      string
	References     []string
	BodyText       string
	BodyHTML       string
	HasAttachments bool
	Errors         []string // Non-fatal parsing errors
}

// Address represents an email address with optional display name.
type Address struct {
	Name  string
	Email string
}

// Parse parses raw MIME data into a Message.
func Parse(raw []byte) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	msg := &Message{
		Subject:   EnsureUTF8(env.GetHeader("Subject")),
		MessageID: CanonicalMessageID(env.GetHeader("Message-ID")),
		InReplyTo: env.GetHeader("In-Reply-To"),
		BodyText:  EnsureUTF8(env.Text),
		BodyHTML:  EnsureUTF8(env.HTML),
	}

	if dateStr := env.GetHeader("Date"); dateStr != "" {
		if t, err := parseDate(dateStr); err == nil {
			msg.Date = t
		}
	}

	msg.From = parseAddressList(env, "From")
	msg.To = parseAddressList(env, "To")
	msg.Cc = parseAddressList(env, "Cc")
	msg.Bcc = parseAddressList(env, "Bcc")

	if refs := env.GetHeader("References"); refs != "" {
		msg.References = ParseReferences(refs)
	}

	msg.HasAttachments = len(env.Attachments) > 0

	for _, e := range env.Errors {
		msg.Errors = append(msg.Errors, e.Error())
	}

	return msg, nil
}

// ReferenceChain merges the References header and In-Reply-To into a single
// oldest-first list of message identifiers, without duplicates. In-Reply-To
// names the direct parent and therefore goes last.
func ReferenceChain(referencesRaw, inReplyTo string) []string {
	chain := ParseReferences(referencesRaw)
	for _, id := range ParseReferences(inReplyTo) {
		if !containsID(chain, id) {
			chain = append(chain, id)
		}
	}
	return chain
}

func containsID(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

// msgIDPattern matches one angle-bracketed message identifier.
var msgIDPattern = regexp.MustCompile(`<[^<>]+>`)

// ParseReferences extracts message identifiers from reference header text.
// The header is whitespace-separated angle-bracketed IDs, oldest first, but
// real-world senders produce malformed variants; anything that is not an
// angle-bracketed token is ignored.
func ParseReferences(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	for _, match := range msgIDPattern.FindAllString(raw, -1) {
		if id := CanonicalMessageID(match); id != "" && !containsID(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// CanonicalMessageID strips angle brackets and surrounding whitespace from a
// Message-ID header value so identifiers compare equal regardless of framing.
func CanonicalMessageID(raw string) string {
	id := strings.TrimSpace(raw)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}

// parseAddressList parses an address header using enmime's AddressList method.
func parseAddressList(env *enmime.Envelope, header string) []Address {
	list, err := env.AddressList(header)
	if err != nil || list == nil {
		return nil
	}

	addresses := make([]Address, 0, len(list))
	for _, addr := range list {
		if addr.Address == "" {
			continue
		}
		addresses = append(addresses, Address{
			Name:  EnsureUTF8(addr.Name),
			Email: strings.ToLower(addr.Address),
		})
	}
	return addresses
}

// dateFormats lists Date header layouts seen in the wild, most common first.
var dateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
}

// parseDate parses a Date header value into UTC.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	// Strip trailing comments like "(PST)"
	if idx := strings.LastIndex(s, "("); idx > 0 {
		s = strings.TrimSpace(s[:idx])
	}
	var lastErr error
	for _, layout := range dateFormats {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Snippet produces a single-line preview of body text, truncated to maxRunes.
func Snippet(bodyText string, maxRunes int) string {
	line := strings.Join(strings.Fields(bodyText), " ")
	runes := []rune(line)
	if len(runes) <= maxRunes {
		return line
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}
