// ABOUTME: Send middleware stage rendering message text as HTML for Matrix clients
// ABOUTME: Uses goldmark and stores the result in channelData.formatted_body

package matrix

import (
	"bytes"
	"context"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/coven-botkit/internal/activity"
	"github.com/2389/coven-botkit/internal/middleware"
)

// MarkdownStage renders the Text of outbound messages as HTML into
// channelData.formatted_body. Messages that already carry a formatted body
// are left alone.
func MarkdownStage[B any]() middleware.Handler[B, *activity.Activity] {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))

	return func(ctx context.Context, bot B, act *activity.Activity, next middleware.Next) error {
		if act.Type != activity.TypeMessage || act.Text == "" {
			return next()
		}
		if _, ok := act.ChannelValue(KeyFormattedBody); ok {
			return next()
		}

		var buf bytes.Buffer
		if err := md.Convert([]byte(act.Text), &buf); err != nil {
			return fmt.Errorf("rendering markdown: %w", err)
		}
		if act.ChannelData == nil {
			act.ChannelData = make(map[string]any)
		}
		act.ChannelData[KeyFormattedBody] = string(bytes.TrimSpace(buf.Bytes()))
		return next()
	}
}
