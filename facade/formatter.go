package facade

import "github.com/Clever/log-writer-core/message"

// MessageFormatter is the external collaborator (§6) that converts a
// framework-specific log event into a Message by applying a textual
// layout. It lives outside this module (layout/formatting is explicitly
// out of scope, §1); the core only defines the contract it calls, and
// discards the event via InternalLogger.Error when Format fails.
type MessageFormatter interface {
	Format(event any) (message.Message, error)
}
