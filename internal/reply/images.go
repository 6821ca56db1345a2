package reply

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/EgorLis/zwiftroutebot/internal/discord"
	"github.com/EgorLis/zwiftroutebot/internal/images"
)

// Источники картинок в подписи.
const (
	sourceProfile  = "ZwiftHacks"
	sourceMap      = "ZwiftHub"
	sourceIncline  = "Incline"
	sourceOther    = "Other"
	sourceCyccal   = "Cyccal"
	sourceInsider  = "ZwiftInsider"
	attachmentBase = "route"
)

// NeedsInsiderImage reports whether random and routestats replies have no
// image of their own and should fall back to the route page image.
func NeedsInsiderImage(set images.Set) bool {
	return len(set.Profiles) == 0 && set.CyccalURL == "" && len(set.Maps) == 0 && len(set.Others) == 0
}

// attacher собирает вложения одного ответа без повторов
type attacher struct {
	b       *Builder
	files   []discord.File
	sources []string
	used    map[string]bool
	images  int
}

func (b *Builder) newAttacher() *attacher {
	return &attacher{b: b, used: map[string]bool{}}
}

func (a *attacher) source(s string) {
	for _, x := range a.sources {
		if x == s {
			return
		}
	}
	a.sources = append(a.sources, s)
}

func (a *attacher) attach(path, base, source string) (discord.File, bool) {
	if a.b.load == nil || a.used[path] || len(a.files) >= MaxFiles {
		return discord.File{}, false
	}
	f, err := a.b.load(path, base)
	if err != nil {
		a.b.log.Warn("route image skipped", zap.String("file", path), zap.Error(err))
		return discord.File{}, false
	}
	a.used[path] = true
	a.files = append(a.files, f)
	a.source(source)
	a.images++
	return f, true
}

// primary делает первую подходящую картинку основной картинкой embed
func (a *attacher) primary(e *discord.Embed, paths []string, source string) bool {
	if e.Image != nil || len(paths) == 0 {
		return e.Image != nil
	}
	f, ok := a.attach(paths[0], attachmentBase, source)
	if !ok {
		return false
	}
	e.Image = &discord.EmbedImage{URL: "attachment://" + f.Name}
	return true
}

func (a *attacher) url(e *discord.Embed, u, source string) bool {
	if e.Image != nil || u == "" {
		return e.Image != nil
	}
	e.Image = &discord.EmbedImage{URL: u}
	a.source(source)
	a.images++
	return true
}

// all прикладывает все ещё не использованные файлы как base_0, base_1...
func (a *attacher) all(paths []string, base, source string) {
	for i, p := range paths {
		a.attach(p, fmt.Sprintf("%s_%d", base, i), source)
	}
}

// one прикладывает первый ещё не использованный файл
func (a *attacher) one(paths []string, base, source string) {
	for _, p := range paths {
		if a.used[p] {
			continue
		}
		if _, ok := a.attach(p, base, source); ok {
			return
		}
	}
}

// pick выбирает основную картинку для random и routestats: профиль, Cyccal,
// карта, прочее и в конце картинка со страницы маршрута
func (a *attacher) pick(e *discord.Embed, set images.Set, insiderImage, routeName string) {
	switch {
	case a.primary(e, set.Profiles, sourceProfile):
	case a.url(e, set.CyccalURL, sourceCyccal):
		e.Fields = append(e.Fields, cyccalField(routeName))
	case a.primary(e, set.Maps, sourceMap):
	case a.primary(e, set.Others, sourceOther):
	default:
		a.url(e, insiderImage, sourceInsider)
	}
}
