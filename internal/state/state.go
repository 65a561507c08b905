package state

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrAlreadySet = errors.New("already set")
)

// Store is the shared cross-phase state: stage-scoped keys written by
// one phase and read by later ones. Keys are write-once; a phase that
// legitimately replaces a value (token refresh) must use Overwrite.
type Store interface {
	Put(key, value string) error
	Overwrite(key, value string)
	Get(key string) (string, error)
	Lookup(key string) (string, bool)
	Keys(prefix string) []string
}

// Stage-scoped keys. These mirror the artifacts the phases exchange.
const (
	KeyToken       = "auth_token"
	KeyPartitioned = "orders_partitioned"
)

func PriceKey(energyKey string) string { return "price_" + energyKey }

func UnitTypeKey(energyKey string) string { return "unit_type_" + energyKey }

func QuantityKey(energyKey string) string { return "quantity_" + energyKey }

func ExistingOrderKey(orderID string) string { return "existing_order_" + orderID }

func NewOrderKey(orderID string) string { return "new_order_" + orderID }

func EditOrderKey(n int) string { return fmt.Sprintf("edit_order_%d", n) }

func DeleteOrderKey(n int) string { return fmt.Sprintf("delete_order_%d", n) }

const (
	ExistingOrderPrefix = "existing_order_"
	NewOrderPrefix      = "new_order_"
)
