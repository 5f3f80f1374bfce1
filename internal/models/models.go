package models

import "time"

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleRestaurant Role = "restaurant"
	RoleDriver     Role = "driver"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleRestaurant, RoleDriver:
		return true
	}
	return false
}

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate lies on the globe.
func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

type LineItem struct {
	Title string  `json:"title"`
	Price float64 `json:"price"`
}

type Order struct {
	ID              string      `json:"id"`
	RestaurantID    string      `json:"restaurantId"`
	CustomerID      string      `json:"customerId"`
	Items           []LineItem  `json:"items"`
	CustomerLoc     *Coord      `json:"customerLoc,omitempty"`
	DriverID        string      `json:"driverId,omitempty"`
	Status          OrderStatus `json:"status"`
	PaymentIntentID string      `json:"paymentIntentId,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
	AcceptedAt      *time.Time  `json:"acceptedAt,omitempty"`
	DeclinedAt      *time.Time  `json:"declinedAt,omitempty"`
	AssignedAt      *time.Time  `json:"assignedAt,omitempty"`
}

// Total is the sum of line item prices.
func (o Order) Total() float64 {
	var sum float64
	for _, it := range o.Items {
		sum += it.Price
	}
	return sum
}

// Clone returns a deep copy so snapshots handed to the change feed
// cannot be mutated through shared slices or pointers.
func (o Order) Clone() Order {
	c := o
	if o.Items != nil {
		c.Items = append([]LineItem(nil), o.Items...)
	}
	c.CustomerLoc = cloneCoord(o.CustomerLoc)
	c.AcceptedAt = cloneTime(o.AcceptedAt)
	c.DeclinedAt = cloneTime(o.DeclinedAt)
	c.AssignedAt = cloneTime(o.AssignedAt)
	return c
}

// OrderChange is the before/after snapshot of a single order write.
type OrderChange struct {
	Before Order     `json:"before"`
	After  Order     `json:"after"`
	At     time.Time `json:"at"`
}

type DriverRequest struct {
	ID         string     `json:"id"`
	DriverID   string     `json:"driverId"`
	OrderID    string     `json:"orderId"`
	CreatedAt  time.Time  `json:"createdAt"`
	Accepted   bool       `json:"accepted"`
	AcceptedAt *time.Time `json:"acceptedAt,omitempty"`
	Stale      bool       `json:"stale"`
	StaleAt    *time.Time `json:"staleAt,omitempty"`
}

// Open reports whether the request can still be accepted.
func (r DriverRequest) Open() bool { return !r.Accepted && !r.Stale }

type Driver struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Available bool      `json:"available"`
	Location  *Coord    `json:"location,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
	CreatedAt time.Time `json:"createdAt"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  *Coord    `json:"location,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Restaurant struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Contact   string     `json:"contact,omitempty"`
	Menu      []LineItem `json:"menu"`
	CreatedAt time.Time  `json:"createdAt"`
}

type DeviceToken struct {
	Role      Role      `json:"role"`
	AccountID string    `json:"accountId"`
	Token     string    `json:"token"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func cloneCoord(c *Coord) *Coord {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
