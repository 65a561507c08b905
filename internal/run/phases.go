package run

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"enharness/internal/auth"
	"enharness/internal/domain"
	"enharness/internal/ensek"
	"enharness/internal/orders"
	"enharness/internal/state"
)

// Phase names, in their fixed execution order.
const (
	PhaseLogin                  = "Login"
	PhaseReset                  = "Reset"
	PhaseEnergyAndOrdersStatus  = "EnergyAndOrdersStatus"
	PhaseBuyEnergy              = "BuyEnergy"
	PhaseConfirmNewOrders       = "ConfirmNewOrders"
	PhaseCreateOrdersAndConfirm = "CreateOrdersAndConfirm"
	PhaseDeleteOrdersAndConfirm = "DeleteOrdersAndConfirm"
)

// PhaseNames returns the fixed total order.
func PhaseNames() []string {
	return []string{
		PhaseLogin,
		PhaseReset,
		PhaseEnergyAndOrdersStatus,
		PhaseBuyEnergy,
		PhaseConfirmNewOrders,
		PhaseCreateOrdersAndConfirm,
		PhaseDeleteOrdersAndConfirm,
	}
}

const (
	updatedProbeQuantity = 2
	updatedProbeEnergy   = 2
	finalQuantity        = 7
	finalEnergyID        = 3
)

type Deps struct {
	Client          *ensek.Client
	Auth            *auth.Manager
	Orders          *orders.Tracker
	Store           state.Store
	MaxResponseTime time.Duration
	Logger          *zap.Logger
}

// BuildPhases wires the seven phases. Each closure set shares a small
// stash so later checks can consume artifacts captured earlier.
func BuildPhases(d Deps) []Phase {
	return []Phase{
		loginPhase(d),
		resetPhase(d),
		energyAndOrdersPhase(d),
		buyEnergyPhase(d),
		confirmNewOrdersPhase(d),
		createOrdersPhase(d),
		deleteOrdersPhase(d),
	}
}

func loginPhase(d Deps) Phase {
	var (
		resp *ensek.Response
		raw  string
	)
	return Phase{
		Name: PhaseLogin,
		Checks: []Check{
			{
				Name: "response time within threshold",
				Run: func(ctx context.Context) error {
					var err error
					resp, err = d.Client.Login(ctx, d.Auth.Username(), d.Auth.Password())
					if err != nil {
						return err
					}
					if resp.Duration > d.MaxResponseTime {
						return &domain.AssertionFailure{
							Check:    "login response time",
							Expected: "at most " + d.MaxResponseTime.String(),
							Actual:   resp.Duration.String(),
						}
					}
					return nil
				},
			},
			{
				Name: "status is 200",
				Run: func(ctx context.Context) error {
					return expectStatus("login", resp, http.StatusOK)
				},
			},
			{
				Name: "access token extracted",
				Run: func(ctx context.Context) error {
					var err error
					raw, err = auth.ExtractAccessToken(resp)
					return err
				},
			},
			{
				Name: "token structure and claims valid",
				Run: func(ctx context.Context) error {
					tok, err := d.Auth.Adopt(raw)
					if err != nil {
						return err
					}
					d.Logger.Info("authenticated",
						zap.String("algorithm", tok.Algorithm),
						zap.Time("expires_at", tok.ExpiresAt))
					return nil
				},
			},
		},
	}
}

func resetPhase(d Deps) Phase {
	var outcome *auth.ResetOutcome
	return Phase{
		Name:     PhaseReset,
		Requires: []string{state.KeyToken},
		Checks: []Check{
			{
				Name: "status is 200",
				Run: func(ctx context.Context) error {
					var err error
					outcome, err = d.Auth.ResetRequest(ctx)
					if err != nil {
						return err
					}
					return expectStatus("reset", outcome.Response, http.StatusOK)
				},
			},
			{
				Name: "message reports Success",
				Run: func(ctx context.Context) error {
					if outcome.Auth.Message != "Success" {
						return &domain.AuthError{
							Kind:   domain.ResetFailed,
							Detail: fmt.Sprintf("expected message %q, got %q", "Success", outcome.Auth.Message),
						}
					}
					return nil
				},
			},
			{
				Name: "rotated token stored",
				Run: func(ctx context.Context) error {
					if outcome.Auth.AccessToken == "" {
						// The service may keep the session token; the held one stays valid.
						_, err := d.Auth.EnsureValidToken(ctx)
						return err
					}
					_, err := d.Auth.Adopt(outcome.Auth.AccessToken)
					return err
				},
			},
		},
	}
}

func energyAndOrdersPhase(d Deps) Phase {
	var (
		energyResp *ensek.Response
		records    []domain.OrderRecord
		listResp   *ensek.Response
	)
	return Phase{
		Name:     PhaseEnergyAndOrdersStatus,
		Requires: []string{state.KeyToken},
		Checks: []Check{
			{
				Name: "energy snapshot returns 200",
				Run: func(ctx context.Context) error {
					var err error
					energyResp, err = d.Client.Energy(ctx)
					if err != nil {
						return err
					}
					return expectStatus("energy", energyResp, http.StatusOK)
				},
			},
			{
				Name: "all energy types priced and recorded",
				Run: func(ctx context.Context) error {
					return recordEnergySnapshot(d.Store, energyResp)
				},
			},
			{
				Name: "orders listing returns 200 with json",
				Run: func(ctx context.Context) error {
					var err error
					records, listResp, err = d.Orders.DiscoverOrders(ctx)
					if err != nil {
						return err
					}
					if err := expectStatus("orders", listResp, http.StatusOK); err != nil {
						return err
					}
					if !listResp.JSON() {
						return &domain.AssertionFailure{
							Check:    "orders content type",
							Expected: "application/json",
							Actual:   listResp.ContentType,
						}
					}
					return nil
				},
			},
			{
				Name: "order records are well formed",
				Run: func(ctx context.Context) error {
					return orders.ValidateRecords(records)
				},
			},
			{
				Name: "roles partitioned",
				Run: func(ctx context.Context) error {
					_, err := d.Orders.PartitionRoles(records)
					return err
				},
			},
		},
	}
}

func buyEnergyPhase(d Deps) Phase {
	checks := make([]Check, 0, len(domain.AllEnergyTypes()))
	for _, et := range domain.AllEnergyTypes() {
		et := et
		checks = append(checks, Check{
			Name: "purchase " + et.Key() + " confirmed",
			Run: func(ctx context.Context) error {
				_, err := d.Orders.CreateAndTrackPurchase(ctx, et, 1)
				return err
			},
		})
	}
	return Phase{Name: PhaseBuyEnergy, Requires: []string{state.KeyToken}, Checks: checks}
}

func confirmNewOrdersPhase(d Deps) Phase {
	var (
		records []domain.OrderRecord
		fresh   []string
	)
	return Phase{
		Name:     PhaseConfirmNewOrders,
		Requires: []string{state.KeyPartitioned},
		Checks: []Check{
			{
				Name: "listing retrieved",
				Run: func(ctx context.Context) error {
					var err error
					var resp *ensek.Response
					records, resp, err = d.Orders.DiscoverOrders(ctx)
					if err != nil {
						return err
					}
					return expectStatus("orders", resp, http.StatusOK)
				},
			},
			{
				Name: "new orders disjoint from baseline",
				Run: func(ctx context.Context) error {
					var err error
					fresh, err = d.Orders.IdentifyNew(records)
					return err
				},
			},
			{
				Name: "purchases appeared as orders",
				Run: func(ctx context.Context) error {
					if len(fresh) == 0 {
						return &domain.AssertionFailure{
							Check:    "new order count",
							Expected: "at least one order created by the purchases",
							Actual:   "none",
						}
					}
					d.Logger.Info("new orders confirmed", zap.Strings("ids", fresh))
					return nil
				},
			},
		},
	}
}

func createOrdersPhase(d Deps) Phase {
	var targets []string
	return Phase{
		Name:     PhaseCreateOrdersAndConfirm,
		Requires: []string{state.EditOrderKey(1), state.EditOrderKey(2)},
		Checks: []Check{
			{
				Name: "edit targets retrievable",
				Run: func(ctx context.Context) error {
					targets = nil
					for _, key := range []string{state.EditOrderKey(1), state.EditOrderKey(2)} {
						id, err := d.Store.Get(key)
						if err != nil {
							return err
						}
						targets = append(targets, id)
						resp, err := d.Client.GetOrder(ctx, id)
						if err != nil {
							return err
						}
						if err := expectStatus("order "+id, resp, http.StatusOK); err != nil {
							return err
						}
						if err := requireOrderFields(resp, id); err != nil {
							return err
						}
					}
					return nil
				},
			},
			{
				Name: "update acknowledged with message",
				Run: func(ctx context.Context) error {
					for _, id := range targets {
						resp, err := d.Client.UpdateOrder(ctx, id, updatedProbeQuantity, updatedProbeEnergy)
						if err != nil {
							return err
						}
						if err := expectStatus("update "+id, resp, http.StatusOK); err != nil {
							return err
						}
						if err := requireMessageContains(resp, "updated", id); err != nil {
							return err
						}
					}
					return nil
				},
			},
			{
				Name: "update to final values succeeds",
				Run: func(ctx context.Context) error {
					for _, id := range targets {
						resp, err := d.Client.UpdateOrder(ctx, id, finalQuantity, finalEnergyID)
						if err != nil {
							return err
						}
						if err := expectStatus("update "+id, resp, http.StatusOK); err != nil {
							return err
						}
						if err := d.Orders.MarkUpdated(id); err != nil {
							return err
						}
					}
					return nil
				},
			},
			{
				Name: "orders reflect updated values",
				Run: func(ctx context.Context) error {
					for _, id := range targets {
						if err := d.Orders.VerifyOrder(ctx, id, finalQuantity, finalEnergyID); err != nil {
							return err
						}
					}
					return nil
				},
			},
		},
	}
}

func deleteOrdersPhase(d Deps) Phase {
	var targets []string
	return Phase{
		Name:     PhaseDeleteOrdersAndConfirm,
		Requires: []string{state.DeleteOrderKey(1), state.DeleteOrderKey(2)},
		Checks: []Check{
			{
				Name: "delete targets removed",
				Run: func(ctx context.Context) error {
					targets = nil
					for _, key := range []string{state.DeleteOrderKey(1), state.DeleteOrderKey(2)} {
						id, err := d.Store.Get(key)
						if err != nil {
							return err
						}
						targets = append(targets, id)
						resp, err := d.Client.DeleteOrder(ctx, id)
						if err != nil {
							return err
						}
						if err := expectStatus("delete "+id, resp, http.StatusOK); err != nil {
							return err
						}
						if err := d.Orders.MarkDeleted(id); err != nil {
							return err
						}
					}
					return nil
				},
			},
			{
				Name: "deleted orders no longer retrievable",
				Run: func(ctx context.Context) error {
					for _, id := range targets {
						if err := d.Orders.VerifyDeleted(ctx, id); err != nil {
							return err
						}
					}
					return nil
				},
			},
		},
	}
}

func expectStatus(op string, resp *ensek.Response, want int) error {
	if resp.StatusCode != want {
		return &domain.AssertionFailure{
			Check:    op + " status",
			Expected: strconv.Itoa(want),
			Actual:   strconv.Itoa(resp.StatusCode),
		}
	}
	return nil
}

// recordEnergySnapshot decodes the energy mapping, requires all four
// known types, and commits each entry to shared state write-once.
func recordEnergySnapshot(store state.Store, resp *ensek.Response) error {
	if len(resp.Body) == 0 {
		return &domain.DataError{Kind: domain.EmptyResponse, Detail: "energy body is empty"}
	}
	var snapshot map[string]domain.EnergyPrice
	if err := json.Unmarshal(resp.Body, &snapshot); err != nil {
		return &domain.DataError{Kind: domain.MalformedBody, Detail: "energy body: " + err.Error()}
	}
	for _, et := range domain.AllEnergyTypes() {
		entry, ok := snapshot[et.Key()]
		if !ok {
			return &domain.DataError{
				Kind:   domain.MissingField,
				Detail: "energy snapshot lacks type " + et.Key(),
			}
		}
		if err := store.Put(state.PriceKey(et.Key()), strconv.FormatFloat(entry.PricePerUnit, 'f', -1, 64)); err != nil {
			return err
		}
		if err := store.Put(state.UnitTypeKey(et.Key()), entry.UnitType); err != nil {
			return err
		}
		if err := store.Put(state.QuantityKey(et.Key()), strconv.FormatInt(entry.QuantityOfUnits, 10)); err != nil {
			return err
		}
	}
	return nil
}

func requireOrderFields(resp *ensek.Response, orderID string) error {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return &domain.DataError{Kind: domain.MalformedBody, Detail: "order " + orderID + ": " + err.Error()}
	}
	for _, field := range []string{"quantity", "energy_id"} {
		if _, ok := body[field]; !ok {
			return &domain.DataError{
				Kind:   domain.MissingField,
				Detail: fmt.Sprintf("order %s lacks %q", orderID, field),
			}
		}
	}
	return nil
}

func requireMessageContains(resp *ensek.Response, fragment, orderID string) error {
	var body ensek.MessageResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return &domain.DataError{Kind: domain.MalformedBody, Detail: "update " + orderID + ": " + err.Error()}
	}
	if !strings.Contains(strings.ToLower(body.Message), strings.ToLower(fragment)) {
		return &domain.AssertionFailure{
			Check:    "update confirmation message",
			Expected: fmt.Sprintf("message containing %q for order %s", fragment, orderID),
			Actual:   body.Message,
		}
	}
	return nil
}
