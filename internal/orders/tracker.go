package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"enharness/internal/domain"
	"enharness/internal/ensek"
	"enharness/internal/state"
)

// Partition policy: the first two discovered orders become edit
// targets, the two at indexes 3 and 4 become delete targets. Anything
// shorter than five orders cannot be partitioned.
const (
	editTargetCount   = 2
	deleteSkip        = 3
	deleteTargetCount = 2
	minPartitionSize  = deleteSkip + deleteTargetCount
)

var purchasePattern = regexp.MustCompile(`You have purchased (\d+) (.+?) at a cost`)

// Client is the slice of the remote surface the tracker needs.
type Client interface {
	ListOrders(ctx context.Context) (*ensek.Response, error)
	GetOrder(ctx context.Context, orderID string) (*ensek.Response, error)
	Buy(ctx context.Context, energyType domain.EnergyType, quantity int) (*ensek.Response, error)
}

// Tracker follows every order identifier through its lifecycle:
// discovery, role assignment, mutation and verification.
type Tracker struct {
	client Client
	store  state.Store
	logger *zap.Logger

	states map[string]domain.OrderState
}

func NewTracker(client Client, store state.Store, logger *zap.Logger) *Tracker {
	return &Tracker{
		client: client,
		store:  store,
		logger: logger,
		states: make(map[string]domain.OrderState, 32),
	}
}

// State reports the lifecycle state of an identifier.
func (t *Tracker) State(orderID string) domain.OrderState {
	return t.states[orderID]
}

// advance moves an order forward and refuses regressions. Attempts to
// move backwards are ignored, matching the forward-only contract.
func (t *Tracker) advance(orderID string, next domain.OrderState) error {
	cur := t.states[orderID]
	moved, err := cur.Advance(next)
	if err != nil {
		return err
	}
	t.states[orderID] = moved
	return nil
}

// DiscoverOrders fetches the current listing and decodes it into
// records, resolving the id key tolerantly ("id" preferred over "Id").
func (t *Tracker) DiscoverOrders(ctx context.Context) ([]domain.OrderRecord, *ensek.Response, error) {
	resp, err := t.client.ListOrders(ctx)
	if err != nil {
		return nil, nil, err
	}
	records, err := ParseListing(resp)
	if err != nil {
		return nil, resp, err
	}
	for _, rec := range records {
		if err := t.advance(rec.ID, domain.OrderDiscovered); err != nil {
			return nil, resp, err
		}
	}
	return records, resp, nil
}

// ParseListing decodes an order-listing response body.
func ParseListing(resp *ensek.Response) ([]domain.OrderRecord, error) {
	if len(resp.Body) == 0 {
		return nil, &domain.DataError{Kind: domain.EmptyResponse, Detail: "order listing body is empty"}
	}
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, &domain.DataError{Kind: domain.MalformedBody, Detail: "order listing is not an array of objects: " + err.Error()}
	}
	if len(raw) == 0 {
		return nil, &domain.DataError{Kind: domain.NoOrders, Detail: "order listing is empty"}
	}

	records := make([]domain.OrderRecord, 0, len(raw))
	for i, entry := range raw {
		id, err := resolveIdentifier(entry)
		if err != nil {
			return nil, err
		}
		rec := domain.OrderRecord{ID: id}
		if v, ok := entry["fuel"]; ok {
			_ = json.Unmarshal(v, &rec.Fuel)
		}
		if v, ok := entry["quantity"]; ok {
			if err := json.Unmarshal(v, &rec.Quantity); err != nil {
				return nil, &domain.DataError{
					Kind:   domain.MalformedBody,
					Detail: fmt.Sprintf("order %d: quantity is not an integer", i),
				}
			}
		}
		if v, ok := entry["time"]; ok {
			_ = json.Unmarshal(v, &rec.Time)
		}
		records = append(records, rec)
	}
	return records, nil
}

// resolveIdentifier tries the known id key aliases in priority order.
func resolveIdentifier(entry map[string]json.RawMessage) (string, error) {
	for _, key := range []string{"id", "Id"} {
		v, ok := entry[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil && s != "" {
			return s, nil
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil && n.String() != "" {
			return n.String(), nil
		}
	}
	return "", &domain.DataError{Kind: domain.MissingIdentifier, Detail: "order has neither a usable \"id\" nor \"Id\" key"}
}

// ValidateRecords asserts the listing-level field invariants: fuel in
// the enumeration, non-negative quantity, parseable timestamp.
func ValidateRecords(records []domain.OrderRecord) error {
	for _, rec := range records {
		if rec.Fuel == "" || !domain.ValidFuel(rec.Fuel) {
			return &domain.AssertionFailure{
				Check:    "order fuel label",
				Expected: "one of gas, nuclear, electric, oil",
				Actual:   fmt.Sprintf("%q on order %s", rec.Fuel, rec.ID),
			}
		}
		if rec.Quantity < 0 {
			return &domain.AssertionFailure{
				Check:    "order quantity",
				Expected: "non-negative integer",
				Actual:   fmt.Sprintf("%d on order %s", rec.Quantity, rec.ID),
			}
		}
		if rec.Time == "" || !parseableTime(rec.Time) {
			return &domain.AssertionFailure{
				Check:    "order timestamp",
				Expected: "parseable date-time",
				Actual:   fmt.Sprintf("%q on order %s", rec.Time, rec.ID),
			}
		}
	}
	return nil
}

func parseableTime(value string) bool {
	for _, layout := range []string{
		time.RFC3339,
		time.RFC1123,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}

// PartitionRoles assigns the discovered identifiers to disjoint
// roles, records the baseline once, and commits every assignment
// write-once to shared state. Re-partitioning within a run is an
// invariant violation, not a supported operation.
func (t *Tracker) PartitionRoles(records []domain.OrderRecord) (domain.OrderIdentifierSet, error) {
	var set domain.OrderIdentifierSet

	if _, done := t.store.Lookup(state.KeyPartitioned); done {
		return set, &domain.InvariantViolation{
			Kind:   domain.RolesReassigned,
			Detail: "role partition already committed for this run",
		}
	}
	if len(records) == 0 {
		return set, &domain.DataError{Kind: domain.NoOrders, Detail: "nothing to partition"}
	}
	if len(records) < minPartitionSize {
		return set, &domain.DataError{
			Kind:   domain.InsufficientOrders,
			Detail: fmt.Sprintf("need at least %d orders to assign roles, got %d", minPartitionSize, len(records)),
		}
	}

	for _, rec := range records {
		if err := t.store.Put(state.ExistingOrderKey(rec.ID), rec.ID); err != nil {
			if errors.Is(err, state.ErrAlreadySet) {
				return set, &domain.InvariantViolation{
					Kind:   domain.DuplicateOrder,
					Detail: fmt.Sprintf("identifier %s appears more than once in the listing", rec.ID),
				}
			}
			return set, err
		}
		set.Existing = append(set.Existing, rec.ID)
	}

	for i := 0; i < editTargetCount; i++ {
		id := records[i].ID
		if err := t.assignRole(state.EditOrderKey(i+1), id); err != nil {
			return set, err
		}
		set.EditTargets = append(set.EditTargets, id)
	}
	for i := 0; i < deleteTargetCount; i++ {
		id := records[deleteSkip+i].ID
		if err := t.assignRole(state.DeleteOrderKey(i+1), id); err != nil {
			return set, err
		}
		set.DeleteTargets = append(set.DeleteTargets, id)
	}

	if err := t.store.Put(state.KeyPartitioned, strconv.Itoa(len(records))); err != nil {
		return set, err
	}

	t.logger.Info("order roles partitioned",
		zap.Int("existing", len(set.Existing)),
		zap.Strings("edit_targets", set.EditTargets),
		zap.Strings("delete_targets", set.DeleteTargets))
	return set, nil
}

func (t *Tracker) assignRole(key, orderID string) error {
	if err := t.store.Put(key, orderID); err != nil {
		return err
	}
	return t.advance(orderID, domain.OrderRoleAssigned)
}

// IdentifyNew re-examines a listing and records identifiers outside
// the baseline as new orders. Already-known new orders are left
// untouched, so re-discovery never resets lifecycle state.
func (t *Tracker) IdentifyNew(records []domain.OrderRecord) ([]string, error) {
	var fresh []string
	for _, rec := range records {
		if _, existing := t.store.Lookup(state.ExistingOrderKey(rec.ID)); existing {
			continue
		}
		if _, known := t.store.Lookup(state.NewOrderKey(rec.ID)); known {
			continue
		}
		if err := t.store.Put(state.NewOrderKey(rec.ID), rec.ID); err != nil {
			if errors.Is(err, state.ErrAlreadySet) {
				return fresh, &domain.InvariantViolation{
					Kind:   domain.DuplicateOrder,
					Detail: fmt.Sprintf("identifier %s recorded as new twice", rec.ID),
				}
			}
			return fresh, err
		}
		if err := t.advance(rec.ID, domain.OrderRoleAssigned); err != nil {
			return fresh, err
		}
		fresh = append(fresh, rec.ID)
	}
	return fresh, nil
}

// VerifyOrder fetches a single order and checks both mutated fields
// exactly, then marks the order verified.
func (t *Tracker) VerifyOrder(ctx context.Context, orderID string, wantQuantity, wantEnergyID int) error {
	resp, err := t.client.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &domain.AssertionFailure{
			Check:    "order fetch status",
			Expected: "200",
			Actual:   fmt.Sprintf("%d for order %s", resp.StatusCode, orderID),
		}
	}

	var body struct {
		Quantity *int `json:"quantity"`
		EnergyID *int `json:"energy_id"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return &domain.DataError{Kind: domain.MalformedBody, Detail: "order body: " + err.Error()}
	}
	if body.Quantity == nil || body.EnergyID == nil {
		return &domain.DataError{
			Kind:   domain.MissingField,
			Detail: fmt.Sprintf("order %s lacks quantity or energy_id", orderID),
		}
	}
	if *body.Quantity != wantQuantity || *body.EnergyID != wantEnergyID {
		return &domain.AssertionFailure{
			Check:    "updated order values",
			Expected: fmt.Sprintf("quantity=%d energy_id=%d", wantQuantity, wantEnergyID),
			Actual:   fmt.Sprintf("quantity=%d energy_id=%d on order %s", *body.Quantity, *body.EnergyID, orderID),
		}
	}
	return t.advance(orderID, domain.OrderVerified)
}

// MarkUpdated records that a mutation was acknowledged for an order.
func (t *Tracker) MarkUpdated(orderID string) error {
	return t.advance(orderID, domain.OrderUpdated)
}

// MarkDeleted records that a delete was acknowledged for an order.
func (t *Tracker) MarkDeleted(orderID string) error {
	return t.advance(orderID, domain.OrderDeleted)
}

// VerifyDeleted confirms a deleted order is gone: the service must
// no longer return it.
func (t *Tracker) VerifyDeleted(ctx context.Context, orderID string) error {
	resp, err := t.client.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNotFound {
		return &domain.AssertionFailure{
			Check:    "deleted order fetch status",
			Expected: "404",
			Actual:   fmt.Sprintf("%d for order %s", resp.StatusCode, orderID),
		}
	}
	return t.advance(orderID, domain.OrderVerified)
}

// CreateAndTrackPurchase buys energy and validates the confirmation
// message: non-empty, well-formed, positive quantity, and a unit
// consistent with the requested energy type.
func (t *Tracker) CreateAndTrackPurchase(ctx context.Context, energyType domain.EnergyType, quantity int) (string, error) {
	resp, err := t.client.Buy(ctx, energyType, quantity)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &domain.AssertionFailure{
			Check:    "purchase status",
			Expected: "200",
			Actual:   fmt.Sprintf("%d buying %s", resp.StatusCode, energyType.Key()),
		}
	}
	if len(resp.Body) == 0 {
		return "", &domain.DataError{Kind: domain.EmptyResponse, Detail: "purchase response body is empty"}
	}

	var body ensek.MessageResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", &domain.DataError{Kind: domain.MalformedBody, Detail: "purchase body: " + err.Error()}
	}
	if body.Message == "" {
		return "", &domain.AssertionFailure{
			Check:    "purchase confirmation message",
			Expected: "non-empty message",
			Actual:   "empty",
		}
	}

	match := purchasePattern.FindStringSubmatch(body.Message)
	if match == nil {
		return "", &domain.AssertionFailure{
			Check:    "purchase confirmation format",
			Expected: `message matching "You have purchased <quantity> <unit> at a cost"`,
			Actual:   body.Message,
		}
	}
	purchased, err := strconv.Atoi(match[1])
	if err != nil || purchased <= 0 {
		return "", &domain.AssertionFailure{
			Check:    "purchased quantity",
			Expected: "positive integer",
			Actual:   match[1],
		}
	}
	unit := match[2]
	if unit != energyType.Unit() {
		return "", &domain.AssertionFailure{
			Check:    "energy type mismatch",
			Expected: fmt.Sprintf("unit %s for %s", energyType.Unit(), energyType.Key()),
			Actual:   unit,
		}
	}

	t.logger.Info("purchase confirmed",
		zap.String("energy", energyType.Key()),
		zap.Int("quantity", purchased),
		zap.String("unit", unit))
	return body.Message, nil
}
