package busrouter

// Mailbox is the receiving end every module owns: a plain channel per
// subscriber rather than a queue type with its own locking, since the
// channel already serializes access.
type Mailbox chan Message

// NewMailbox returns a buffered mailbox. Size 0 is legal (unbuffered);
// most modules want some slack so a slow receiver doesn't stall the
// broadcaster mid fan-out.
func NewMailbox(size int) Mailbox {
	return make(Mailbox, size)
}
