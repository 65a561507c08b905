package domain

import "time"

// EnergyType enumerates the energy products the remote service sells.
type EnergyType int

const (
	EnergyGas      EnergyType = 1
	EnergyNuclear  EnergyType = 2
	EnergyElectric EnergyType = 3
	EnergyOil      EnergyType = 4
)

var allEnergyTypes = []EnergyType{EnergyGas, EnergyNuclear, EnergyElectric, EnergyOil}

// AllEnergyTypes returns the known types in ascending identifier order.
func AllEnergyTypes() []EnergyType {
	out := make([]EnergyType, len(allEnergyTypes))
	copy(out, allEnergyTypes)
	return out
}

func (t EnergyType) Key() string {
	switch t {
	case EnergyGas:
		return "gas"
	case EnergyNuclear:
		return "nuclear"
	case EnergyElectric:
		return "electric"
	case EnergyOil:
		return "oil"
	}
	return "unknown"
}

// Unit is the unit label the purchase confirmation message reports.
func (t EnergyType) Unit() string {
	switch t {
	case EnergyGas:
		return "m³"
	case EnergyNuclear:
		return "MW"
	case EnergyElectric:
		return "kWh"
	case EnergyOil:
		return "Litres"
	}
	return ""
}

// EnergyTypeForUnit resolves a confirmation-message unit back to its type.
func EnergyTypeForUnit(unit string) (EnergyType, bool) {
	for _, t := range allEnergyTypes {
		if t.Unit() == unit {
			return t, true
		}
	}
	return 0, false
}

// EnergyTypeForKey resolves a snapshot or listing fuel label to its type.
func EnergyTypeForKey(key string) (EnergyType, bool) {
	for _, t := range allEnergyTypes {
		if t.Key() == key {
			return t, true
		}
	}
	return 0, false
}

// ValidFuel reports whether a listing fuel label belongs to the enumeration.
func ValidFuel(fuel string) bool {
	_, ok := EnergyTypeForKey(fuel)
	return ok
}

// Valid reports whether the identifier belongs to the enumeration.
func (t EnergyType) Valid() bool {
	return t >= EnergyGas && t <= EnergyOil
}

// AuthToken is a decoded bearer credential. Raw is the compact
// three-segment string sent on the wire.
type AuthToken struct {
	Raw       string
	Algorithm string
	ExpiresAt time.Time
}

// ExpiresWithin reports whether the token expires before now+skew.
func (t AuthToken) ExpiresWithin(skew time.Duration) bool {
	return !t.ExpiresAt.After(time.Now().UTC().Add(skew))
}

// OrderRecord is one entry of the remote order listing. EnergyID is
// only populated by single-order fetches; listings carry the fuel
// label instead.
type OrderRecord struct {
	ID       string
	Fuel     string
	Quantity int64
	EnergyID int
	Time     string
}

// OrderIdentifierSet is the disjoint role partition of one discovery run.
type OrderIdentifierSet struct {
	Existing      []string
	EditTargets   []string
	DeleteTargets []string
	New           []string
}

// OrderState tracks a single order across the run. Transitions only
// move forward; re-discovery never resets an order.
type OrderState int

const (
	OrderUnknown OrderState = iota
	OrderDiscovered
	OrderRoleAssigned
	OrderUpdated
	OrderDeleted
	OrderVerified
)

func (s OrderState) String() string {
	switch s {
	case OrderUnknown:
		return "unknown"
	case OrderDiscovered:
		return "discovered"
	case OrderRoleAssigned:
		return "role-assigned"
	case OrderUpdated:
		return "updated"
	case OrderDeleted:
		return "deleted"
	case OrderVerified:
		return "verified"
	}
	return "invalid"
}

// rank collapses the Updated/Deleted alternatives onto one level so
// forward-only comparisons work across both branches.
func (s OrderState) rank() int {
	switch s {
	case OrderUnknown:
		return 0
	case OrderDiscovered:
		return 1
	case OrderRoleAssigned:
		return 2
	case OrderUpdated, OrderDeleted:
		return 3
	case OrderVerified:
		return 4
	}
	return -1
}

// Advance returns the state after attempting a transition to next.
// Transitions backwards (or to the current state) are ignored; a
// sideways move between the Updated and Deleted branches is invalid.
func (s OrderState) Advance(next OrderState) (OrderState, error) {
	if next.rank() < s.rank() || next == s {
		return s, nil
	}
	if next.rank() == s.rank() {
		return s, &InvariantViolation{
			Kind:   StateRegression,
			Detail: "order cannot move from " + s.String() + " to " + next.String(),
		}
	}
	return next, nil
}

// EnergyPrice is one entry of the energy snapshot.
type EnergyPrice struct {
	PricePerUnit    float64 `json:"price_per_unit"`
	QuantityOfUnits int64   `json:"quantity_of_units"`
	UnitType        string  `json:"unit_type"`
}
