// Package reply builds the chat messages of every command. It only formats:
// all lookups and fetches happen in the caller, and the result is passed in.
package reply

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/EgorLis/zwiftroutebot/internal/discord"
)

// Лимиты Discord для embed.
const (
	MaxDescription = 4096
	MaxFieldValue  = 1024
	MaxFields      = 25
	MaxEmbedTotal  = 6000
	MaxFiles       = 10
)

// MaxQueryEcho caps a user supplied name in command options and replies.
const MaxQueryEcho = 100

const (
	ColorRoute   = 0xFC6719
	ColorSprint  = 0x00FF00
	ColorKOM     = 0xFF6B6B
	ColorRandom  = 0x9B59B6
	ColorInfo    = 0x3498DB
	ColorError   = 0xE74C3C
	ColorWarn    = 0xE67E22
	ColorSuccess = 0x2ECC71
)

// Brand is the first part of every footer.
const Brand = "ZwiftGuy"

// Thumbnail is shown on route and segment replies.
const Thumbnail = "https://zwiftinsider.com/wp-content/uploads/2022/12/zwift-logo.png"

// Share kinds select the public message of the share button.
const (
	ShareFindRoute   = "findroute"
	ShareRandom      = "random"
	ShareWorldRoutes = "worldroutes"
	ShareRouteStats  = "routestats"
)

var shareMessages = map[string]string{
	ShareFindRoute:   "shared route search results",
	ShareRandom:      "shared a random Zwift route",
	ShareWorldRoutes: "shared routes from a Zwift world",
	ShareRouteStats:  "shared detailed route information",
}

// ShareMessage returns the text posted next to a shared reply.
func ShareMessage(kind string) string {
	if m, ok := shareMessages[kind]; ok {
		return m
	}
	return "shared Zwift information"
}

// Message is a reply ready to be sent. A non-empty ShareKind asks the caller
// to attach the share button.
type Message struct {
	Content   string
	Embeds    []discord.Embed
	Files     []discord.File
	Ephemeral bool
	ShareKind string
}

// Empty reports whether the message has nothing to show.
func (m Message) Empty() bool {
	if m.Content != "" || len(m.Files) > 0 {
		return false
	}
	for _, e := range m.Embeds {
		if e.Title != "" || e.Description != "" || len(e.Fields) > 0 || e.Image != nil {
			return false
		}
	}
	return true
}

// Params converts the message to a request body.
func (m Message) Params() discord.MessageParams {
	p := discord.MessageParams{
		Content: m.Content,
		Embeds:  m.Embeds,
		Files:   m.Files,
	}
	if m.Ephemeral {
		p.Flags = discord.FlagEphemeral
	}
	return p
}

// WithoutFiles drops attachments and the images that point at them.
func (m Message) WithoutFiles() Message {
	out := m
	out.Files = nil
	out.Embeds = make([]discord.Embed, len(m.Embeds))
	for i, e := range m.Embeds {
		if e.Image != nil && strings.HasPrefix(e.Image.URL, "attachment://") {
			e.Image = nil
		}
		out.Embeds[i] = e
	}
	return out
}

// Builder formats replies. Local images are read through load.
type Builder struct {
	load LoadFunc
	log  *zap.Logger
	perm func(n int) []int
}

// LoadFunc reads an image file and names the attachment base plus extension.
type LoadFunc func(path, base string) (discord.File, error)

// NewBuilder creates a builder. A nil load disables local images.
func NewBuilder(load LoadFunc, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{load: load, log: log, perm: rand.Perm}
}

// sample возвращает до k случайных индексов из n
func (b *Builder) sample(n, k int) []int {
	p := b.perm(n)
	if len(p) > k {
		p = p[:k]
	}
	return p
}

func single(e discord.Embed) Message { return Message{Embeds: []discord.Embed{e}} }

func ephemeral(e discord.Embed) Message {
	return Message{Embeds: []discord.Embed{e}, Ephemeral: true}
}

// Error is a generic failure reply.
func Error(description string) Message {
	return ephemeral(discord.Embed{
		Title:       "❌ Error",
		Description: truncate(description, MaxDescription),
		Color:       ColorError,
	})
}

// UserError is a reply to invalid input with a custom title.
func UserError(title, description string) Message {
	return ephemeral(discord.Embed{
		Title:       "❌ " + title,
		Description: truncate(description, MaxDescription),
		Color:       ColorError,
	})
}

// RateLimited tells the user to wait.
func RateLimited(reason string) Message {
	return ephemeral(discord.Embed{Title: "⏳ Rate Limited", Description: reason, Color: ColorWarn})
}

// PermissionDenied is the reply to admin commands from other users.
func PermissionDenied() Message {
	return ephemeral(discord.Embed{
		Title:       "⛔ Permission Denied",
		Description: "This command is only available to bot administrators.",
		Color:       ColorError,
	})
}

// ButtonExpired is the reply to a share button whose reply is gone.
func ButtonExpired() Message {
	return Message{
		Content:   "Error sharing to channel. The share button has expired. Please use the command again for a fresh response.",
		Ephemeral: true,
	}
}

// ShareFailed is the reply when posting the shared reply failed.
func ShareFailed() Message {
	return Message{
		Content:   "Error sharing to channel. The button may have expired or you might not have permission to post in this channel.",
		Ephemeral: true,
	}
}

// Shared turns a stored ephemeral reply into its public copy.
func Shared(orig Message, kind string, by discord.User) Message {
	out := Message{
		Content: fmt.Sprintf("%s %s:", by.Mention(), ShareMessage(kind)),
		Files:   orig.Files,
		Embeds:  make([]discord.Embed, len(orig.Embeds)),
	}
	for i, e := range orig.Embeds {
		old := ""
		if e.Footer != nil {
			old = e.Footer.Text
		}
		e.Footer = &discord.EmbedFooter{Text: fmt.Sprintf("Shared by %s • %s", by.DisplayName(), old)}
		e.Fields = append([]discord.EmbedField(nil), e.Fields...)
		out.Embeds[i] = e
	}
	return out
}

// truncate обрезает по рунам, последний символ заменяется на …
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// embedLength считает символы так же, как Discord для лимита в 6000
func embedLength(e discord.Embed) int {
	n := utf8.RuneCountInString(e.Title) + utf8.RuneCountInString(e.Description)
	if e.Footer != nil {
		n += utf8.RuneCountInString(e.Footer.Text)
	}
	for _, f := range e.Fields {
		n += utf8.RuneCountInString(f.Name) + utf8.RuneCountInString(f.Value)
	}
	return n
}

func field(name, value string, inline bool) discord.EmbedField {
	if value == "" {
		value = "-"
	}
	return discord.EmbedField{Name: name, Value: truncate(value, MaxFieldValue), Inline: inline}
}

// num печатает число без лишних нулей; 0 считается неизвестным
func num(v float64) string {
	if v == 0 {
		return "?"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatMinutes renders a duration like 1h 5m or 45m.
func FormatMinutes(m int) string {
	if m >= 60 {
		return fmt.Sprintf("%dh %dm", m/60, m%60)
	}
	return fmt.Sprintf("%dm", m)
}

// CyccalPage is the Cyccal web page of a route.
func CyccalPage(routeName string) string {
	return "https://cyccal.com/" + strings.ReplaceAll(strings.ToLower(routeName), " ", "-") + "/"
}

func cyccalField(routeName string) discord.EmbedField {
	return field("Additional Resources", fmt.Sprintf("[View on Cyccal](%s)", CyccalPage(routeName)), false)
}

func hasField(e *discord.Embed, name string) bool {
	for _, f := range e.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func footer(parts ...string) *discord.EmbedFooter {
	var keep []string
	for _, p := range parts {
		if p != "" {
			keep = append(keep, p)
		}
	}
	return &discord.EmbedFooter{Text: strings.Join(keep, " • ")}
}
