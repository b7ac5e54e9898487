package extract

import (
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// The converter is goroutine-safe and shared process-wide; it is built
// lazily on first use so conversion setup cost never delays startup.
var (
	mdOnce      sync.Once
	mdConverter *converter.Converter
)

func markdownConverter() *converter.Converter {
	mdOnce.Do(func() {
		mdConverter = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(
					table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
				),
			),
		)
	})
	return mdConverter
}

// ToMarkdown converts clean HTML to Markdown.
//
// The domain parameter resolves relative URLs in <a> and <img> tags into
// absolute URLs, so the Markdown output is self-contained.
func ToMarkdown(htmlContent string, domain string) (string, error) {
	return markdownConverter().ConvertString(htmlContent, converter.WithDomain(domain))
}
