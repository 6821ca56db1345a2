package bot

import (
	"go.uber.org/zap"

	"github.com/EgorLis/zwiftroutebot/internal/discord"
	"github.com/EgorLis/zwiftroutebot/internal/match"
)

// handleAutocomplete подсказывает имена из каталога для поля, которое
// сейчас набирает пользователь
func (bot *ZwiftBot) handleAutocomplete(in *discord.Interaction, ack Ack) {
	if in.Data == nil {
		return
	}
	opt, ok := in.Data.Focused()
	if !ok {
		return
	}
	query, _ := opt.Value.(string)

	var names []string
	switch {
	case opt.Name == "world":
		names = bot.cat.Worlds()
	case in.Data.Name == "sprint":
		for _, s := range bot.cat.Sprints() {
			names = append(names, s.Name)
		}
	case in.Data.Name == "kom":
		for _, k := range bot.cat.KOMs() {
			names = append(names, k.Name)
		}
	default:
		for _, r := range bot.cat.Routes() {
			names = append(names, r.Name)
		}
	}

	choices := []discord.Choice{}
	for _, n := range match.Suggest(names, query, autocompleteLimit) {
		choices = append(choices, discord.Choice{Name: n, Value: n})
	}
	err := ack(discord.InteractionResponse{
		Type: discord.ResponseAutocompleteResult,
		Data: &discord.ResponseData{Choices: choices},
	})
	if err != nil {
		bot.log.Debug("autocomplete response failed", zap.Error(err))
	}
}
