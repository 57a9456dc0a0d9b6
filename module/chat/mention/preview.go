package mention

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/html"

	"fellowchat/module/chat/model"
)

// PreviewResolver fetches lightweight link metadata (title + image) after a
// message is already persisted; resolution never blocks the send path.
type PreviewResolver struct {
	Client  *http.Client
	MaxBody int64 // bytes read per page; previews only need the head
}

func NewPreviewResolver(timeout time.Duration, maxBody int64) *PreviewResolver {
	if maxBody <= 0 {
		maxBody = 512 << 10
	}
	return &PreviewResolver{
		Client:  &http.Client{Timeout: timeout},
		MaxBody: maxBody,
	}
}

// Resolve fetches url and extracts og:title/og:image falling back to
// <title>. The body read is capped at MaxBody.
func (r *PreviewResolver) Resolve(ctx context.Context, url string) (model.LinkPreview, error) {
	out := model.LinkPreview{URL: url}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return out, errors.Wrap(err, "build preview request")
	}
	req.Header.Set("Accept", "text/html")

	resp, err := r.Client.Do(req)
	if err != nil {
		return out, errors.Wrap(err, "fetch preview")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return out, errors.Errorf("fetch preview: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return out, errors.Errorf("fetch preview: content type %s", ct)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, r.MaxBody))
	if err != nil {
		return out, errors.Wrap(err, "parse preview html")
	}

	var title, ogTitle, ogImage string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if n.FirstChild != nil && title == "" {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				var prop, content string
				for _, a := range n.Attr {
					switch a.Key {
					case "property", "name":
						prop = a.Val
					case "content":
						content = a.Val
					}
				}
				switch prop {
				case "og:title":
					ogTitle = content
				case "og:image":
					ogImage = content
				}
			case "body":
				return // metadata lives in <head>
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	out.Title = ogTitle
	if out.Title == "" {
		out.Title = title
	}
	out.ImageURL = ogImage
	if out.Title == "" && out.ImageURL == "" {
		return out, errors.New("no preview metadata")
	}
	return out, nil
}

// ResolveAll resolves every url, skipping failures; a page without usable
// metadata simply contributes nothing.
func (r *PreviewResolver) ResolveAll(ctx context.Context, urls []string) []model.LinkPreview {
	var out []model.LinkPreview
	for _, u := range urls {
		p, err := r.Resolve(ctx, u)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}
