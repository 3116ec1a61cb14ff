// Package notifier fans change reports and operator notices out to the
// configured channels (desktop, email, push relay, Telegram).
//
// # Isolation
//
// Every channel is attempted on every dispatch, in registration order,
// regardless of how earlier channels fared. Failures are logged per
// channel. Only channels marked Critical (email) report their failure
// back to the caller.
//
// # Kinds
//
// A change report (KindChange) is sent at most once per poll cycle and
// aggregates every change of that cycle. Operator notices (KindStatus)
// cover lifecycle events such as start, timeouts and fatal stops; they
// are best-effort and never return an error.
//
// # History
//
// For debugging, the dispatcher keeps a small in-memory history of
// recently sent messages.
package notifier
