// ABOUTME: Fluent builder for Slack dialog forms
// ABOUTME: Produces slack-go Dialog values and their indented JSON form

package slackdialog

import (
	"encoding/json"
	"fmt"

	"github.com/slack-go/slack"
)

// Options are the optional settings of a form element. Zero values are omitted.
type Options struct {
	Placeholder string
	Hint        string
	Optional    bool
	MinLength   int
	MaxLength   int
}

// Option is one choice of a select element.
type Option = slack.DialogSelectOption

// Dialog builds a Slack dialog. Every setter returns the dialog for chaining.
type Dialog struct {
	data slack.Dialog
}

// New starts a dialog. submitLabel may be empty to use Slack's default.
func New(title, callbackID, submitLabel string) *Dialog {
	return &Dialog{data: slack.Dialog{
		Title:       title,
		CallbackID:  callbackID,
		SubmitLabel: submitLabel,
		Elements:    []slack.DialogElement{},
	}}
}

// State sets the string Slack echoes back on submission.
func (d *Dialog) State(v string) *Dialog {
	d.data.State = v
	return d
}

// NotifyOnCancel asks Slack to report cancelled dialogs.
func (d *Dialog) NotifyOnCancel(set bool) *Dialog {
	d.data.NotifyOnCancel = set
	return d
}

func (d *Dialog) Title(v string) *Dialog {
	d.data.Title = v
	return d
}

func (d *Dialog) CallbackID(v string) *Dialog {
	d.data.CallbackID = v
	return d
}

func (d *Dialog) SubmitLabel(v string) *Dialog {
	d.data.SubmitLabel = v
	return d
}

// AddElement appends a ready-made element.
func (d *Dialog) AddElement(el slack.DialogElement) *Dialog {
	d.data.Elements = append(d.data.Elements, el)
	return d
}

// AddText appends a single-line text input.
func (d *Dialog) AddText(label, name, value string, opts Options) *Dialog {
	return d.addText(slack.InputTypeText, "", label, name, value, opts)
}

// AddEmail appends a text input with the email subtype.
func (d *Dialog) AddEmail(label, name, value string, opts Options) *Dialog {
	return d.addText(slack.InputTypeText, slack.InputSubtypeEmail, label, name, value, opts)
}

// AddNumber appends a text input with the number subtype.
func (d *Dialog) AddNumber(label, name, value string, opts Options) *Dialog {
	return d.addText(slack.InputTypeText, slack.InputSubtypeNumber, label, name, value, opts)
}

// AddTel appends a text input with the tel subtype.
func (d *Dialog) AddTel(label, name, value string, opts Options) *Dialog {
	return d.addText(slack.InputTypeText, slack.InputSubtypeTel, label, name, value, opts)
}

// AddURL appends a text input with the url subtype.
func (d *Dialog) AddURL(label, name, value string, opts Options) *Dialog {
	return d.addText(slack.InputTypeText, slack.InputSubtypeURL, label, name, value, opts)
}

// AddTextarea appends a multi-line input. subtype may be empty.
func (d *Dialog) AddTextarea(label, name, value string, opts Options, subtype slack.TextInputSubtype) *Dialog {
	return d.addText(slack.InputTypeTextArea, subtype, label, name, value, opts)
}

func (d *Dialog) addText(typ slack.InputType, subtype slack.TextInputSubtype, label, name, value string, opts Options) *Dialog {
	return d.AddElement(&slack.TextInputElement{
		DialogInput: input(typ, label, name, opts),
		MinLength:   opts.MinLength,
		MaxLength:   opts.MaxLength,
		Value:       value,
		Subtype:     subtype,
	})
}

// AddSelect appends a static select menu. value preselects an option.
func (d *Dialog) AddSelect(label, name, value string, options []Option, opts Options) *Dialog {
	return d.AddElement(&slack.DialogInputSelect{
		DialogInput: input(slack.InputTypeSelect, label, name, opts),
		Value:       value,
		Options:     options,
	})
}

func input(typ slack.InputType, label, name string, opts Options) slack.DialogInput {
	return slack.DialogInput{
		Type:        typ,
		Label:       label,
		Name:        name,
		Placeholder: opts.Placeholder,
		Optional:    opts.Optional,
		Hint:        opts.Hint,
	}
}

// AsObject returns the dialog, ready for slack.Client.OpenDialog.
func (d *Dialog) AsObject() slack.Dialog {
	out := d.data
	out.Elements = append([]slack.DialogElement(nil), d.data.Elements...)
	return out
}

// AsString returns the dialog as indented JSON.
func (d *Dialog) AsString() (string, error) {
	data, err := json.MarshalIndent(d.data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding dialog: %w", err)
	}
	return string(data), nil
}
