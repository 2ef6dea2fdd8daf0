// Package botframework connects the bot to Bot Framework channels such as
// Microsoft Teams.
//
// # Ingress
//
// Handler returns the webhook endpoint. Each request is optionally checked
// for a bearer token (see package auth), decoded into an activity, passed
// through the inbound middleware and then handed to the bot logic. After the
// turn the handler writes whatever httpStatus and httpBody the turn left in
// its state, which is how invoke activities return synchronous results.
//
// The inbound pipeline always starts with the "tenant" stage, which copies
// channelData.tenant.id onto conversation.tenantId when a channel only sends
// the former.
//
// # Delivery
//
// Outbound activities go through a Connector, one per service URL, which
// posts to the connector REST API with the Botkit user agent. When an app id
// is configured the requests are authorized with an OAuth2 client credentials
// token; the token is cached and shared by all connectors.
//
// GetChannels lists the channels of the team a turn came from. Turns from
// outside a team get an empty list.
package botframework
