package private

import "github.com/shopmindai/chatcore/internal/domain"

// canTransition enumerates the legal PrivateConversationStatus
// transitions: pending -> accepted, pending -> rejected. Both are
// terminal-adjacent; accepted and rejected never transition further.
func canTransition(from, to domain.PrivateConversationStatus) bool {
	if from != domain.PrivateStatusPending {
		return false
	}
	return to == domain.PrivateStatusAccepted || to == domain.PrivateStatusRejected
}

// canRecipientRead reports whether a non-requester participant may view or
// reply to a conversation in the given status.
func canRecipientRead(status domain.PrivateConversationStatus) bool {
	return status == domain.PrivateStatusAccepted
}

// canSend reports whether sender may add a message to a conversation with
// the given status, given whether sender is the original requester. Admin
// pairs need no case here: they are created already accepted. Send itself
// limits a pending requester to the one request message.
func canSend(status domain.PrivateConversationStatus, senderIsRequester bool) bool {
	switch status {
	case domain.PrivateStatusAccepted:
		return true
	case domain.PrivateStatusPending:
		return senderIsRequester
	default: // rejected
		return false
	}
}
