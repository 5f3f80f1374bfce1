package models

type OrderStatus string

const (
	StatusPlaced         OrderStatus = "placed"
	StatusAccepted       OrderStatus = "accepted"
	StatusDeclined       OrderStatus = "declined"
	StatusDriverAssigned OrderStatus = "driver_assigned"
)

var transitions = map[OrderStatus][]OrderStatus{
	StatusPlaced:   {StatusAccepted, StatusDeclined},
	StatusAccepted: {StatusDriverAssigned},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPlaced, StatusAccepted, StatusDeclined, StatusDriverAssigned:
		return true
	}
	return false
}

// CanTransitionTo reports whether the ledger allows moving from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// HasDriver reports whether orders in this status carry a driver.
func (s OrderStatus) HasDriver() bool {
	return s == StatusDriverAssigned
}

func (s OrderStatus) Terminal() bool {
	return s == StatusDeclined
}
