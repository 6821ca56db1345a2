package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EgorLis/zwiftroutebot/internal/discord"
	"github.com/EgorLis/zwiftroutebot/internal/reply"
)

const sharePrefix = "share:"

type shareEntry struct {
	msg     reply.Message
	expires time.Time
}

// shareStore хранит эфемерные ответы, которые можно опубликовать кнопкой
type shareStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]shareEntry
}

func newShareStore(ttl time.Duration) *shareStore {
	return &shareStore{ttl: ttl, now: time.Now, entries: map[string]shareEntry{}}
}

// put сохраняет ответ и возвращает custom_id кнопки
func (s *shareStore) put(m reply.Message) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.entries[id] = shareEntry{msg: m, expires: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return sharePrefix + id
}

func (s *shareStore) get(customID string) (reply.Message, bool) {
	id, ok := strings.CutPrefix(customID, sharePrefix)
	if !ok {
		return reply.Message{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return reply.Message{}, false
	}
	if s.now().After(e.expires) {
		delete(s.entries, id)
		return reply.Message{}, false
	}
	return e.msg, true
}

func (s *shareStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

func (s *shareStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func shareButton(customID string) []discord.Component {
	return []discord.Component{discord.ActionRow(discord.Button(discord.ButtonPrimary, "Share to Channel", customID))}
}

// handleShare публикует сохранённый ответ; если токен нажатия уже протух,
// пишет прямо в канал
func (bot *ZwiftBot) handleShare(ctx context.Context, in *discord.Interaction, ack Ack) {
	user := in.Author()
	stored, ok := bot.shares.get(in.Data.CustomID)
	if !ok {
		bot.respond(ack, reply.ButtonExpired())
		return
	}
	kind := stored.ShareKind
	shared := reply.Shared(stored, kind, user)

	err := ack(discord.InteractionResponse{
		Type: discord.ResponseChannelMessage,
		Data: &discord.ResponseData{MessageParams: shared.Params()},
	})
	if err == nil {
		bot.log.Info("reply shared", zap.String("kind", kind), zap.String("user", user.ID))
		return
	}
	if !discord.IsUnknownInteraction(err) {
		bot.log.Error("share failed", zap.Error(err))
		bot.respond(ack, reply.ShareFailed())
		return
	}

	bot.log.Info("interaction expired, sharing to channel directly", zap.String("channel", in.ChannelID))
	if in.ChannelID == "" {
		bot.log.Error("could not determine channel for fallback sharing")
		return
	}
	if _, err := bot.api.CreateMessage(ctx, in.ChannelID, shared.Params()); err != nil {
		bot.log.Error("fallback channel sharing failed", zap.Error(err))
	}
}
