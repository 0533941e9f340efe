package documents

type transitionKey struct {
	from Status
	to   Status
}

// transitions lists every permitted status change per document type.
// DONE -> CANCELLED is not listed; only Cancel performs it, after posting
// compensating entries.
var transitions = map[DocType]map[transitionKey]bool{
	TypeReceipt: {
		{StatusDraft, StatusReady}:     true,
		{StatusDraft, StatusDone}:      true,
		{StatusReady, StatusDone}:      true,
		{StatusDraft, StatusCancelled}: true,
		{StatusReady, StatusCancelled}: true,
	},
	TypeDelivery: gatedTransitions(),
	TypeTransfer: gatedTransitions(),
	TypeAdjustment: {
		{StatusDraft, StatusDone}:      true,
		{StatusDraft, StatusCancelled}: true,
	},
}

func gatedTransitions() map[transitionKey]bool {
	return map[transitionKey]bool{
		{StatusDraft, StatusWaiting}:     true,
		{StatusDraft, StatusReady}:       true,
		{StatusWaiting, StatusReady}:     true,
		{StatusReady, StatusWaiting}:     true,
		{StatusDraft, StatusDone}:        true,
		{StatusWaiting, StatusDone}:      true,
		{StatusReady, StatusDone}:        true,
		{StatusDraft, StatusCancelled}:   true,
		{StatusWaiting, StatusCancelled}: true,
		{StatusReady, StatusCancelled}:   true,
	}
}

// CanTransition reports whether a document of type t may move from -> to.
func CanTransition(t DocType, from, to Status) bool {
	return transitions[t][transitionKey{from: from, to: to}]
}

// Confirmable reports whether Confirm applies from status s.
func Confirmable(t DocType, s Status) bool {
	switch t {
	case TypeReceipt:
		return s == StatusDraft
	case TypeDelivery, TypeTransfer:
		return s == StatusDraft || s == StatusWaiting || s == StatusReady
	}
	return false
}
