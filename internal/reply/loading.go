package reply

import (
	"strings"
	"time"

	"github.com/EgorLis/zwiftroutebot/internal/discord"
)

// TrackLength is the number of animation frames.
const TrackLength = 20

var loadingTitles = []string{"Finding route...", "Calculating distance...", "Checking traffic...", "Almost there!"}

// LoadingFrame is the animation frame with the bike at pos.
func LoadingFrame(pos int) discord.Embed {
	pos = max(0, min(pos, TrackLength-1))
	title := loadingTitles[min(pos/5, len(loadingTitles)-1)]
	track := strings.Repeat("═", pos) + "🚲" + strings.Repeat("═", TrackLength-pos-1)
	return discord.Embed{Title: title, Description: track, Color: ColorRoute}
}

// LoadingDelay is the pause after frame pos; the bike speeds up.
func LoadingDelay(pos int) time.Duration {
	return max(200*time.Millisecond, 500*time.Millisecond-time.Duration(pos)*15*time.Millisecond)
}
