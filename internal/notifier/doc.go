// Package notifier fans incidents out to the delivery channels.
//
// Each channel is a Sender with its own readiness state. For every incident the
// Dispatcher reads the runtime settings once, skips disabled or not-ready
// channels, and attempts every (channel, recipient) pair independently. Each
// attempt is rate limited per channel and leaves exactly one
// NotificationRecord, sent or failed. A failure never stops the fan-out.
//
// Delivery is best-effort. Retries, when a provider supports them, live inside
// the channel sender.
package notifier
