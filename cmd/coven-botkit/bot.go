// ABOUTME: The bot served by coven-botkit: greetings, a feedback dialog and Teams helpers
// ABOUTME: Registered on every enabled channel's controller by the gateway

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/coven-botkit/internal/activity"
	"github.com/2389/coven-botkit/internal/botframework"
	"github.com/2389/coven-botkit/internal/botkit"
	"github.com/2389/coven-botkit/internal/dialog"
	"github.com/2389/coven-botkit/internal/slackdialog"
)

const feedbackDialog = "feedback"

// slackDialogContentType marks an attachment carrying a Slack dialog form.
const slackDialogContentType = "application/vnd.slack.dialog+json"

const helpText = `I understand:
- **hello** - say hi
- **feedback** - rate this bot
- **channels** - list the channels of this team (Teams only)
- **form** - get the feedback form as a Slack dialog
- **dm me** - start a private chat with you`

// setupBot registers the bot's dialogs and handlers.
func setupBot(bot *botkit.Controller) error {
	bot.AddDialog(feedbackDialog, feedbackSteps())

	hears := []struct {
		pattern string
		handler botkit.Handler
	}{
		{`(?i)^\s*(hi|hello|hey)\b`, handleHello},
		{`(?i)^\s*help\s*$`, handleHelp},
		{`(?i)^\s*feedback\s*$`, handleFeedback},
		{`(?i)^\s*channels\s*$`, handleChannels},
		{`(?i)^\s*form\s*$`, handleForm},
		{`(?i)^\s*dm me\s*$`, handleDM},
	}
	for _, h := range hears {
		if err := bot.Hears(h.pattern, h.handler); err != nil {
			return err
		}
	}

	bot.On(activity.TypeConversationUpdate, handleMembersAdded)
	return nil
}

func handleHello(ctx context.Context, bot *botkit.Worker, msg *botkit.Message) error {
	name := "there"
	if from := msg.IncomingMessage.From; from != nil && from.Name != "" {
		name = from.Name
	}
	_, err := bot.Reply(ctx, msg, fmt.Sprintf("Hello, %s! Say **help** to see what I can do.", name))
	return err
}

func handleHelp(ctx context.Context, bot *botkit.Worker, msg *botkit.Message) error {
	_, err := bot.Reply(ctx, msg, helpText)
	return err
}

func handleFeedback(ctx context.Context, bot *botkit.Worker, msg *botkit.Message) error {
	return bot.BeginDialog(ctx, feedbackDialog, nil)
}

// handleChannels lists the team's channels. Outside Teams, or outside a
// team, there is nothing to list.
func handleChannels(ctx context.Context, bot *botkit.Worker, msg *botkit.Message) error {
	bf, ok := bot.Controller().Adapter().(*botframework.Adapter)
	if !ok {
		_, err := bot.Reply(ctx, msg, "Channel listing only works in Microsoft Teams.")
		return err
	}

	channels, err := bf.GetChannels(ctx, bot.Config().Context)
	if err != nil {
		return fmt.Errorf("listing channels: %w", err)
	}
	if len(channels) == 0 {
		_, err = bot.Reply(ctx, msg, "This conversation is not part of a team.")
		return err
	}

	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = "- " + ch.Name
	}
	_, err = bot.Reply(ctx, msg, "Channels in this team:\n"+strings.Join(names, "\n"))
	return err
}

func handleForm(ctx context.Context, bot *botkit.Worker, msg *botkit.Message) error {
	form := slackdialog.New("Feedback", "feedback_form", "Send").
		State(msg.Channel).
		AddSelect("Rating", "rating", "", []slackdialog.Option{
			{Label: "Great", Value: "5"},
			{Label: "Fine", Value: "3"},
			{Label: "Poor", Value: "1"},
		}, slackdialog.Options{}).
		AddTextarea("Comments", "comments", "", slackdialog.Options{Optional: true}, "")

	_, err := bot.Reply(ctx, msg, map[string]any{
		"text": "Here is the feedback form.",
		"attachments": []any{map[string]any{
			"contentType": slackDialogContentType,
			"content":     form.AsObject(),
		}},
	})
	return err
}

// handleDM opens a 1:1 conversation with the sender and greets them there.
func handleDM(ctx context.Context, bot *botkit.Worker, msg *botkit.Message) error {
	if _, err := bot.Reply(ctx, msg, "Sending you a private message."); err != nil {
		return err
	}
	if err := bot.StartConversationWithUser(ctx, msg.Reference); err != nil {
		return err
	}
	_, err := bot.Say(ctx, "Hi! This is our private chat.")
	return err
}

func handleMembersAdded(ctx context.Context, bot *botkit.Worker, msg *botkit.Message) error {
	act := msg.IncomingMessage
	for _, member := range act.MembersAdded {
		if act.Recipient != nil && member.ID == act.Recipient.ID {
			continue
		}
		if _, err := bot.Say(ctx, "Welcome! Say **help** to see what I can do."); err != nil {
			return err
		}
	}
	return nil
}

// feedbackSteps asks for a rating and a comment over three turns.
func feedbackSteps() dialog.Waterfall {
	say := func(ctx context.Context, dc *dialog.Context, text string) error {
		_, err := dc.Say(ctx, text)
		return err
	}

	return dialog.Waterfall{
		func(ctx context.Context, dc *dialog.Context, inst *dialog.Instance) error {
			return say(ctx, dc, "How would you rate me, from 1 to 5? (say **cancel** to stop)")
		},
		func(ctx context.Context, dc *dialog.Context, inst *dialog.Instance) error {
			answer := strings.TrimSpace(dc.Turn.Activity.Text)
			if strings.EqualFold(answer, "cancel") {
				if err := dc.CancelAllDialogs(ctx); err != nil {
					return err
				}
				return say(ctx, dc, "No problem, feedback cancelled.")
			}
			inst.State["rating"] = answer
			return say(ctx, dc, "Thanks! Anything else you would like to tell me?")
		},
		func(ctx context.Context, dc *dialog.Context, inst *dialog.Instance) error {
			inst.State["comment"] = dc.Turn.Activity.Text
			return say(ctx, dc, fmt.Sprintf("Got it: rating %v. Thank you for the feedback!", inst.State["rating"]))
		},
	}
}
