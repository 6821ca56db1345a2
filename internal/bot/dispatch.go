package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EgorLis/zwiftroutebot/internal/discord"
	"github.com/EgorLis/zwiftroutebot/internal/ratelimit"
	"github.com/EgorLis/zwiftroutebot/internal/reply"
)

// Ack отправляет первый ответ на interaction: через gateway это REST-вызов,
// через HTTP это тело ответа.
type Ack func(discord.InteractionResponse) error

// autocompleteLimit is the maximum number of choices Discord accepts.
const autocompleteLimit = 25

// HandleInteraction отвечает на один interaction. Не паникует; пока
// interaction жив, о любой ошибке узнаёт пользователь.
func (bot *ZwiftBot) HandleInteraction(ctx context.Context, in *discord.Interaction, ack Ack) {
	defer func() {
		if r := recover(); r != nil {
			bot.log.Error("interaction panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()

	switch in.Type {
	case discord.InteractionPing:
		if err := ack(discord.InteractionResponse{Type: discord.ResponsePong}); err != nil {
			bot.log.Warn("pong failed", zap.Error(err))
		}
	case discord.InteractionApplicationCommand:
		bot.handleCommand(ctx, in, ack)
	case discord.InteractionMessageComponent:
		if in.Data == nil {
			return
		}
		bot.handleShare(ctx, in, ack)
	case discord.InteractionAutocomplete:
		bot.handleAutocomplete(in, ack)
	default:
		bot.log.Debug("interaction ignored", zap.Int("type", int(in.Type)))
	}
}

// respond отвечает сразу, без отложенного ответа
func (bot *ZwiftBot) respond(ack Ack, m reply.Message) {
	err := ack(discord.InteractionResponse{
		Type: discord.ResponseChannelMessage,
		Data: &discord.ResponseData{MessageParams: m.Params()},
	})
	if err != nil {
		bot.log.Warn("interaction response failed", zap.Error(err))
	}
}

func (bot *ZwiftBot) handleCommand(ctx context.Context, in *discord.Interaction, ack Ack) {
	if in.Data == nil {
		bot.respond(ack, reply.Error("Malformed command."))
		return
	}
	user := in.Author()
	log := bot.log.With(zap.String("command", in.Data.Name), zap.String("user", user.ID))

	cmd, ok := bot.registry.Lookup(in.Data.Name)
	if !ok {
		log.Warn("unknown command")
		bot.respond(ack, reply.UserError("Unknown Command", fmt.Sprintf("The command `/%s` is not supported.", in.Data.Name)))
		return
	}
	if cmd.AdminOnly && !bot.isAdmin(user.ID) {
		log.Info("admin command denied")
		bot.respond(ack, reply.PermissionDenied())
		return
	}
	if bot.limiter != nil {
		if err := bot.limiter.Allow(user.ID); err != nil {
			var rl *ratelimit.Error
			if errors.As(err, &rl) {
				log.Info("rate limit hit", zap.Duration("wait", rl.Wait))
			}
			bot.respond(ack, reply.RateLimited(err.Error()))
			return
		}
	}

	deferred := discord.InteractionResponse{Type: discord.ResponseDeferredChannelMessage}
	if cmd.Ephemeral {
		deferred.Data = &discord.ResponseData{MessageParams: discord.MessageParams{Flags: discord.FlagEphemeral}}
	}
	if err := ack(deferred); err != nil {
		if discord.IsUnknownInteraction(err) {
			log.Warn("could not defer interaction, it has expired")
		} else {
			log.Error("defer failed", zap.Error(err))
		}
		return
	}

	appID := in.ApplicationID
	if appID == "" {
		appID = bot.application()
	}
	edit := func(m reply.Message) error {
		_, err := bot.api.EditOriginalResponse(ctx, appID, in.Token, m.Params())
		return err
	}

	var (
		editMu  sync.Mutex
		stopped bool
	)
	// правки прогресса и анимации не должны обгонять финальный ответ
	safeEdit := func(m reply.Message) {
		editMu.Lock()
		defer editMu.Unlock()
		if stopped {
			return
		}
		if err := edit(m); err != nil {
			log.Debug("progress edit failed", zap.Error(err))
		}
	}

	var stopAnim func()
	if cmd.Animate && bot.animate {
		stopAnim = bot.startAnimation(ctx, safeEdit)
	}
	req := &Request{Interaction: in, progress: safeEdit}
	msg, err := bot.run(ctx, cmd, req)
	if stopAnim != nil {
		stopAnim()
	}
	editMu.Lock()
	stopped = true
	editMu.Unlock()

	if err != nil {
		msg = bot.errorReply(log, err)
	}
	if msg.Empty() {
		log.Error("handler produced an empty reply")
		msg = reply.Error("An error occurred while processing your request.")
	}

	params := msg.Params()
	if cmd.Ephemeral && msg.ShareKind != "" {
		params.Components = shareButton(bot.shares.put(msg))
	}
	_, err = bot.api.EditOriginalResponse(ctx, appID, in.Token, params)
	if err != nil && len(msg.Files) > 0 {
		log.Warn("reply with files failed, retrying without attachments", zap.Error(err))
		params = msg.WithoutFiles().Params()
		if cmd.Ephemeral && msg.ShareKind != "" {
			params.Components = shareButton(bot.shares.put(msg.WithoutFiles()))
		}
		_, err = bot.api.EditOriginalResponse(ctx, appID, in.Token, params)
	}
	if err != nil {
		log.Error("reply failed", zap.Error(err))
		bot.replyFailed(ctx, log, appID, in.Token)
		return
	}
	log.Info("command answered", zap.Int("files", len(params.Files)))
}

// replyFailed заменяет "думает..." общей ошибкой, когда сам ответ не ушёл.
// Если исходное сообщение недоступно, пробует followup.
func (bot *ZwiftBot) replyFailed(ctx context.Context, log *zap.Logger, appID, token string) {
	params := reply.Error("An error occurred while processing your request.").Params()
	_, err := bot.api.EditOriginalResponse(ctx, appID, token, params)
	if err == nil {
		return
	}
	log.Warn("error reply edit failed, sending followup", zap.Error(err))
	if _, err := bot.api.CreateFollowup(ctx, appID, token, params); err != nil {
		log.Error("error followup failed", zap.Error(err))
	}
}

// run вызывает обработчик и превращает панику в ошибку
func (bot *ZwiftBot) run(ctx context.Context, cmd Command, req *Request) (msg reply.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			bot.log.Error("command panic",
				zap.String("command", cmd.Spec.Name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic in /%s: %v", cmd.Spec.Name, r)
		}
	}()
	return cmd.Handler(ctx, req)
}

func (bot *ZwiftBot) errorReply(log *zap.Logger, err error) reply.Message {
	var ue *UserError
	if errors.As(err, &ue) {
		log.Debug("user error", zap.String("title", ue.Title))
		return reply.UserError(ue.Title, ue.Description)
	}
	log.Error("command failed", zap.Error(err))
	return reply.Error("An error occurred while processing your request.")
}

// startAnimation крутит велосипед, пока обработчик работает; stop ждёт
// завершения горутины
func (bot *ZwiftBot) startAnimation(ctx context.Context, edit func(reply.Message)) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for pos := 0; pos < reply.TrackLength; pos++ {
			edit(reply.Message{Embeds: []discord.Embed{reply.LoadingFrame(pos)}})
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-time.After(bot.frameDelay(pos)):
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		wg.Wait()
	}
}
