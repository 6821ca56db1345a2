package bot

import (
	"context"
	"fmt"
	"sort"

	"github.com/EgorLis/zwiftroutebot/internal/discord"
	"github.com/EgorLis/zwiftroutebot/internal/reply"
)

// Handler выполняет команду и возвращает ответ.
type Handler func(ctx context.Context, req *Request) (reply.Message, error)

// Command — зарегистрированная slash-команда.
type Command struct {
	Spec      discord.ApplicationCommand
	Ephemeral bool
	AdminOnly bool
	Animate   bool
	Handler   Handler
}

// Registry хранит команды по имени.
type Registry struct {
	cmds map[string]Command
}

func NewRegistry() *Registry {
	return &Registry{cmds: make(map[string]Command)}
}

// Register добавляет команду. Повтор имени считается ошибкой программиста
// и вызывает панику.
func (r *Registry) Register(c Command) {
	if c.Spec.Name == "" || c.Handler == nil {
		panic("bot: command without name or handler")
	}
	if _, dup := r.cmds[c.Spec.Name]; dup {
		panic(fmt.Sprintf("bot: command %q registered twice", c.Spec.Name))
	}
	r.cmds[c.Spec.Name] = c
}

// Lookup ищет команду по имени.
func (r *Registry) Lookup(name string) (Command, bool) {
	c, ok := r.cmds[name]
	return c, ok
}

// Specs возвращает описания команд, отсортированные по имени.
func (r *Registry) Specs() []discord.ApplicationCommand {
	out := make([]discord.ApplicationCommand, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, c.Spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Request — один вызов команды.
type Request struct {
	*discord.Interaction
	progress func(reply.Message)
}

// Progress заменяет ожидающий ответ промежуточным сообщением.
func (r *Request) Progress(m reply.Message) {
	if r.progress != nil {
		r.progress(m)
	}
}

// UserError — ошибка во вводе пользователя, текст показывается как есть.
type UserError struct {
	Title       string
	Description string
}

func (e *UserError) Error() string { return e.Title + ": " + e.Description }

func userErr(title, format string, args ...any) error {
	return &UserError{Title: title, Description: fmt.Sprintf(format, args...)}
}
