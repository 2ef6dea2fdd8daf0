// Package slackdialog builds Slack dialog forms.
package slackdialog
