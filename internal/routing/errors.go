package routing

import "errors"

// Routing failures the caller is expected to branch on. Everything fatal to
// a send wraps one of these; side-channel failures (push, notification,
// webhook) are logged and never surface here.
var (
	ErrUnknownRecipient = errors.New("unknown recipient")
	ErrUnknownSender    = errors.New("unknown sender")
	ErrMessageNotFound  = errors.New("message not found")
	ErrHostNotFound     = errors.New("host not found")
	ErrRemoteDelivery   = errors.New("remote delivery failed")
	ErrRemoteTimeout    = errors.New("remote delivery timed out")
	ErrMailboxWrite     = errors.New("mailbox write failed")
	ErrRelayUnavailable = errors.New("relay queue unavailable")
	ErrPolicyBlocked    = errors.New("send blocked by governance policy")
)
