package zwiftinsider

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// RouteInfo is the short live summary shown by the route command.
type RouteInfo struct {
	Stats    []string `json:"stats"`
	ImageURL string   `json:"image_url,omitempty"`
}

var statKeys = []string{"distance:", "elevation:", "length:", "climb:"}

const maxStats = 3

// FetchRouteInfo loads the route page and returns up to three stat lines
// and the featured image.
func (c *Client) FetchRouteInfo(ctx context.Context, pageURL string) (RouteInfo, error) {
	doc, err := c.document(ctx, pageURL)
	if err != nil {
		return RouteInfo{}, err
	}
	info := c.parseRouteInfo(doc)
	if len(info.Stats) == 0 && info.ImageURL == "" {
		return info, ErrNoRouteData
	}
	return info, nil
}

func (c *Client) parseRouteInfo(doc *goquery.Document) RouteInfo {
	var info RouteInfo
	doc.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		text := p.Text()
		lower := strings.ToLower(text)
		for _, k := range statKeys {
			if strings.Contains(lower, k) {
				info.Stats = append(info.Stats, strings.TrimSpace(text))
				break
			}
		}
		return len(info.Stats) < maxStats
	})
	if src, ok := doc.Find("img.wp-post-image").First().Attr("src"); ok {
		info.ImageURL = c.Resolve(src)
	}
	return info
}
