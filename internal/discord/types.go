package discord

import (
	"encoding/json"
	"strconv"
)

// InteractionType is the kind of an incoming interaction.
type InteractionType int

const (
	InteractionPing               InteractionType = 1
	InteractionApplicationCommand InteractionType = 2
	InteractionMessageComponent   InteractionType = 3
	InteractionAutocomplete       InteractionType = 4
)

// ResponseType is the kind of an interaction callback.
type ResponseType int

const (
	ResponsePong                   ResponseType = 1
	ResponseChannelMessage         ResponseType = 4
	ResponseDeferredChannelMessage ResponseType = 5
	ResponseDeferredUpdateMessage  ResponseType = 6
	ResponseUpdateMessage          ResponseType = 7
	ResponseAutocompleteResult     ResponseType = 8
)

// OptionType is the type of a slash command option.
type OptionType int

const (
	OptionString  OptionType = 3
	OptionInteger OptionType = 4
	OptionBoolean OptionType = 5
	OptionNumber  OptionType = 10
)

// FlagEphemeral makes a message visible only to the invoking user.
const FlagEphemeral = 1 << 6

const (
	ComponentActionRow = 1
	ComponentButton    = 2

	ButtonPrimary   = 1
	ButtonSecondary = 2
)

type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name,omitempty"`
}

// DisplayName returns the global name, falling back to the username.
func (u User) DisplayName() string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// Mention returns the chat mention of the user.
func (u User) Mention() string { return "<@" + u.ID + ">" }

type Member struct {
	User *User  `json:"user,omitempty"`
	Nick string `json:"nick,omitempty"`
}

// Interaction is a slash command, a button press, an autocomplete request or a ping.
type Interaction struct {
	ID            string           `json:"id"`
	ApplicationID string           `json:"application_id"`
	Type          InteractionType  `json:"type"`
	Data          *InteractionData `json:"data,omitempty"`
	GuildID       string           `json:"guild_id,omitempty"`
	ChannelID     string           `json:"channel_id,omitempty"`
	Member        *Member          `json:"member,omitempty"`
	User          *User            `json:"user,omitempty"`
	Token         string           `json:"token"`
	Message       *Message         `json:"message,omitempty"`
}

// Author returns the invoking user; in guilds it comes from the member and
// the nickname wins over other names.
func (i *Interaction) Author() User {
	if i.Member != nil && i.Member.User != nil {
		u := *i.Member.User
		if i.Member.Nick != "" {
			u.GlobalName = i.Member.Nick
		}
		return u
	}
	if i.User != nil {
		return *i.User
	}
	return User{}
}

type InteractionData struct {
	ID            string   `json:"id,omitempty"`
	Name          string   `json:"name,omitempty"`
	Type          int      `json:"type,omitempty"`
	Options       []Option `json:"options,omitempty"`
	CustomID      string   `json:"custom_id,omitempty"`
	ComponentType int      `json:"component_type,omitempty"`
}

// Option is a value supplied for a command option. Value holds a string,
// a float64 or a bool after decoding.
type Option struct {
	Name    string     `json:"name"`
	Type    OptionType `json:"type"`
	Value   any        `json:"value,omitempty"`
	Focused bool       `json:"focused,omitempty"`
}

// Option returns the option with the given name.
func (d *InteractionData) Option(name string) (Option, bool) {
	if d == nil {
		return Option{}, false
	}
	for _, o := range d.Options {
		if o.Name == name {
			return o, true
		}
	}
	return Option{}, false
}

// String returns the string value of the named option or "".
func (d *InteractionData) String(name string) string {
	o, ok := d.Option(name)
	if !ok {
		return ""
	}
	switch v := o.Value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	}
	return ""
}

// Float returns the numeric value of the named option.
func (d *InteractionData) Float(name string) (float64, bool) {
	o, ok := d.Option(name)
	if !ok {
		return 0, false
	}
	switch v := o.Value.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// Focused returns the option the user is typing in during autocomplete.
func (d *InteractionData) Focused() (Option, bool) {
	if d == nil {
		return Option{}, false
	}
	for _, o := range d.Options {
		if o.Focused {
			return o, true
		}
	}
	return Option{}, false
}

type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Image       *EmbedImage  `json:"image,omitempty"`
	Thumbnail   *EmbedImage  `json:"thumbnail,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedImage struct {
	URL string `json:"url"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

type Component struct {
	Type       int         `json:"type"`
	Style      int         `json:"style,omitempty"`
	Label      string      `json:"label,omitempty"`
	CustomID   string      `json:"custom_id,omitempty"`
	Disabled   bool        `json:"disabled,omitempty"`
	Components []Component `json:"components,omitempty"`
}

// ActionRow wraps components into a row.
func ActionRow(c ...Component) Component {
	return Component{Type: ComponentActionRow, Components: c}
}

// Button is a clickable button with a custom id.
func Button(style int, label, customID string) Component {
	return Component{Type: ComponentButton, Style: style, Label: label, CustomID: customID}
}

// File is an attachment uploaded together with a message.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type Attachment struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
}

// MessageParams is the body of a message create or edit request.
type MessageParams struct {
	Content     string       `json:"content,omitempty"`
	Embeds      []Embed      `json:"embeds,omitempty"`
	Components  []Component  `json:"components,omitempty"`
	Flags       int          `json:"flags,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Files       []File       `json:"-"`
}

type Choice struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// ResponseData is a callback payload: a message or autocomplete choices.
type ResponseData struct {
	MessageParams
	Choices []Choice `json:"choices,omitempty"`
}

type InteractionResponse struct {
	Type ResponseType  `json:"type"`
	Data *ResponseData `json:"data,omitempty"`
}

type Message struct {
	ID         string      `json:"id"`
	ChannelID  string      `json:"channel_id"`
	Content    string      `json:"content"`
	Embeds     []Embed     `json:"embeds"`
	Components []Component `json:"components,omitempty"`
	Flags      int         `json:"flags,omitempty"`
}

type CommandOption struct {
	Type         OptionType `json:"type"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Required     bool       `json:"required,omitempty"`
	Autocomplete bool       `json:"autocomplete,omitempty"`
	Choices      []Choice   `json:"choices,omitempty"`
	MinValue     *float64   `json:"min_value,omitempty"`
	MaxValue     *float64   `json:"max_value,omitempty"`
	MaxLength    int        `json:"max_length,omitempty"`
}

// ApplicationCommand is a slash command definition.
type ApplicationCommand struct {
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Options     []CommandOption `json:"options,omitempty"`
}

type Application struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GatewayBot is the answer of GET /gateway/bot.
type GatewayBot struct {
	URL               string `json:"url"`
	Shards            int    `json:"shards"`
	SessionStartLimit struct {
		Total          int `json:"total"`
		Remaining      int `json:"remaining"`
		ResetAfter     int `json:"reset_after"`
		MaxConcurrency int `json:"max_concurrency"`
	} `json:"session_start_limit"`
}
