package lending

import "github.com/angelmondragon/labloan-backend/pkg/enums"

type edge struct {
	from enums.RequestStatus
	to   enums.RequestStatus
}

// transitions maps each legal status change to the sign of its effect on the
// component's available quantity, scaled by the request quantity.
var transitions = map[edge]int{
	{from: enums.RequestStatusPending, to: enums.RequestStatusApproved}:  -1,
	{from: enums.RequestStatusPending, to: enums.RequestStatusRejected}:  0,
	{from: enums.RequestStatusApproved, to: enums.RequestStatusReturned}: 1,
	{from: enums.RequestStatusApproved, to: enums.RequestStatusRejected}: 1,
}

// availableDelta returns the change to available_quantity for moving a request
// of the given quantity from one status to another, and whether the move is legal.
func availableDelta(from, to enums.RequestStatus, quantity int) (int, bool) {
	sign, ok := transitions[edge{from: from, to: to}]
	if !ok {
		return 0, false
	}
	return sign * quantity, true
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to enums.RequestStatus) bool {
	_, ok := transitions[edge{from: from, to: to}]
	return ok
}
