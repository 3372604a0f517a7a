package reviewtask

import (
	"fmt"
	"time"
)

// State is the lifecycle position of a review task.
type State string

const (
	StateUnpaid        State = "unpaid"
	StatePaid          State = "paid"
	StateApproved      State = "approved"
	StateUploaded      State = "uploaded"
	StateCompleted     State = "completed"
	StateCancelled     State = "cancelled"
	StateBuyerRejected State = "buyer_rejected"
	StateRejected      State = "rejected"
)

// States lists every state in lifecycle order.
var States = []State{
	StateUnpaid, StatePaid, StateApproved, StateUploaded,
	StateCompleted, StateCancelled, StateBuyerRejected, StateRejected,
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	for _, v := range States {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no further event can fire from s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateBuyerRejected, StateRejected:
		return true
	}
	return false
}

// Event is something that happens to a task.
type Event string

const (
	EventReprice     Event = "reprice"
	EventPay         Event = "pay"
	EventCancel      Event = "cancel"
	EventApprove     Event = "approve"
	EventReject      Event = "reject"
	EventUpload      Event = "upload"
	EventBuyerReject Event = "buyer_reject"
	EventConfirm     Event = "confirm"
	EventRefund      Event = "refund_without_confirm"
	EventEscalate    Event = "escalate"
)

// Role is the capacity in which an actor fires an event.
type Role string

const (
	RoleMerchant Role = "merchant"
	RoleBuyer    Role = "buyer"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleMerchant || r == RoleBuyer || r == RoleAdmin
}

// Actor identifies who fires an event.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// System is the actor used by background jobs.
var System = Actor{ID: "system", Role: RoleAdmin}

type transition struct {
	from []State
	to   State
	role Role
	// stamp returns the timestamp field this transition sets, or nil.
	stamp func(t *Task) **time.Time
}

// transitions is the complete lifecycle. Anything not listed is illegal.
var transitions = map[Event]transition{
	EventReprice: {
		from: []State{StateUnpaid},
		to:   StateUnpaid,
		role: RoleMerchant,
	},
	EventPay: {
		from:  []State{StateUnpaid},
		to:    StatePaid,
		role:  RoleMerchant,
		stamp: func(t *Task) **time.Time { return &t.PaidAt },
	},
	EventCancel: {
		from:  []State{StateUnpaid, StatePaid, StateApproved},
		to:    StateCancelled,
		role:  RoleMerchant,
		stamp: func(t *Task) **time.Time { return &t.CancelledAt },
	},
	EventApprove: {
		from:  []State{StatePaid},
		to:    StateApproved,
		role:  RoleAdmin,
		stamp: func(t *Task) **time.Time { return &t.ExaminedAt },
	},
	EventReject: {
		from:  []State{StatePaid},
		to:    StateRejected,
		role:  RoleAdmin,
		stamp: func(t *Task) **time.Time { return &t.ExaminedAt },
	},
	EventUpload: {
		from:  []State{StateApproved},
		to:    StateUploaded,
		role:  RoleBuyer,
		stamp: func(t *Task) **time.Time { return &t.UploadedAt },
	},
	EventBuyerReject: {
		from:  []State{StateApproved, StateUploaded},
		to:    StateBuyerRejected,
		role:  RoleBuyer,
		stamp: func(t *Task) **time.Time { return &t.BuyerRejectedAt },
	},
	EventConfirm: {
		from:  []State{StateUploaded},
		to:    StateCompleted,
		role:  RoleMerchant,
		stamp: func(t *Task) **time.Time { return &t.ConfirmedAt },
	},
	EventRefund: {
		from:  []State{StateUploaded},
		to:    StateCancelled,
		role:  RoleAdmin,
		stamp: func(t *Task) **time.Time { return &t.CancelledAt },
	},
	EventEscalate: {
		from:  []State{StateUploaded},
		to:    StateUploaded,
		role:  RoleAdmin,
		stamp: func(t *Task) **time.Time { return &t.EscalatedAt },
	},
}

// Allowed returns the events actor may fire on t right now.
func Allowed(t *Task, actor Actor) []Event {
	var events []Event
	for _, ev := range []Event{
		EventReprice, EventPay, EventCancel, EventApprove, EventReject,
		EventUpload, EventBuyerReject, EventConfirm, EventRefund,
	} {
		if _, err := gate(t, ev, actor); err == nil {
			events = append(events, ev)
		}
	}
	return events
}

// gate is the single check every event passes before any side effect.
// The actor is checked before the source state.
func gate(t *Task, ev Event, actor Actor) (transition, error) {
	tr, ok := transitions[ev]
	if !ok {
		return transition{}, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev)
	}
	if !authorized(t, tr.role, actor) {
		return transition{}, fmt.Errorf("%w: %s %q cannot %s task %s", ErrUnauthorized, actor.Role, actor.ID, ev, t.ID)
	}
	legal := false
	for _, s := range tr.from {
		if t.State == s {
			legal = true
			break
		}
	}
	if !legal {
		return transition{}, fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, ev, t.State)
	}
	if tr.stamp != nil && *tr.stamp(t) != nil {
		return transition{}, fmt.Errorf("%w: %s already recorded", ErrInvalidTransition, ev)
	}
	return tr, nil
}

// authorized checks the role and, for merchants and buyers, ownership.
func authorized(t *Task, role Role, actor Actor) bool {
	if actor.Role != role || actor.ID == "" {
		return false
	}
	switch role {
	case RoleMerchant:
		return actor.ID == t.MerchantID
	case RoleBuyer:
		return actor.ID == t.BuyerID
	}
	return true
}

// canView reports whether actor may read t.
func canView(t *Task, actor Actor) bool {
	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleMerchant:
		return actor.ID == t.MerchantID
	case RoleBuyer:
		return actor.ID == t.BuyerID
	}
	return false
}
