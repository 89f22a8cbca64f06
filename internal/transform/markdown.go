package transform

import (
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// newMarkdownConverter builds a converter that drops the excluded tags and
// reduces links, images, and tables to plain text.
func newMarkdownConverter(exclude []string) *md.Converter {
	conv := md.NewConverter("", true, nil)
	conv.Remove(exclude...)
	conv.AddRules(
		md.Rule{
			Filter: []string{"a"},
			Replacement: func(content string, _ *goquery.Selection, _ *md.Options) *string {
				return md.String(content)
			},
		},
		md.Rule{
			Filter: []string{"img"},
			Replacement: func(_ string, selec *goquery.Selection, _ *md.Options) *string {
				alt := CollapseWhitespace(selec.AttrOr("alt", ""))
				if alt == "" {
					return md.String("")
				}
				return md.String(" " + alt + " ")
			},
		},
		md.Rule{
			Filter: []string{"table"},
			Replacement: func(_ string, selec *goquery.Selection, _ *md.Options) *string {
				var cells []string
				selec.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
					if text := CollapseWhitespace(cell.Text()); text != "" {
						cells = append(cells, text)
					}
				})
				if len(cells) == 0 {
					return md.String("")
				}
				return md.String("\n\n" + strings.Join(cells, " ") + "\n\n")
			},
		},
	)
	return conv
}

func (t *Transformer) markdown(raw string) (string, error) {
	out, err := t.conv.ConvertString(raw)
	if err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return strings.TrimSpace(out), nil
}
