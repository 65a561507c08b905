package stub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"enharness/internal/domain"
)

// order is the stub's record of a purchase. legacyKey marks orders
// serialized with a capitalized "Id" key, which the upstream service
// does for some historical rows.
type order struct {
	id        string
	fuel      string
	quantity  int64
	energyID  int
	time      string
	legacyKey bool
}

type energyEntry struct {
	EnergyID        int     `json:"energy_id"`
	PricePerUnit    float64 `json:"price_per_unit"`
	QuantityOfUnits int64   `json:"quantity_of_units"`
	UnitType        string  `json:"unit_type"`
}

type Server struct {
	username string
	password string
	secret   string
	tokenTTL time.Duration

	mu     sync.Mutex
	energy map[string]energyEntry
	orders []order
}

func NewServer(username, password, secret string, tokenTTL time.Duration) *Server {
	s := &Server{
		username: username,
		password: password,
		secret:   secret,
		tokenTTL: tokenTTL,
	}
	s.seed()
	return s
}

// seed restores the canonical fixture: four priced energy types and
// five historical orders, one of them carrying the legacy "Id" key.
func (s *Server) seed() {
	s.energy = map[string]energyEntry{
		"gas":      {EnergyID: int(domain.EnergyGas), PricePerUnit: 0.34, QuantityOfUnits: 3000, UnitType: domain.EnergyGas.Unit()},
		"nuclear":  {EnergyID: int(domain.EnergyNuclear), PricePerUnit: 0.56, QuantityOfUnits: 1500, UnitType: domain.EnergyNuclear.Unit()},
		"electric": {EnergyID: int(domain.EnergyElectric), PricePerUnit: 0.47, QuantityOfUnits: 4322, UnitType: domain.EnergyElectric.Unit()},
		"oil":      {EnergyID: int(domain.EnergyOil), PricePerUnit: 0.86, QuantityOfUnits: 20, UnitType: domain.EnergyOil.Unit()},
	}
	base := time.Date(2019, time.February, 9, 0, 13, 26, 0, time.UTC)
	s.orders = nil
	for i, fuel := range []string{"gas", "electric", "oil", "gas", "electric"} {
		et, _ := domain.EnergyTypeForKey(fuel)
		s.orders = append(s.orders, order{
			id:        uuid.NewString(),
			fuel:      fuel,
			quantity:  int64(10 + i),
			energyID:  int(et),
			time:      base.Add(time.Duration(i) * time.Hour).Format(time.RFC1123),
			legacyKey: i == 2,
		})
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Post("/ENSEK/login", s.handleLogin)

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireToken)
		protected.Post("/ENSEK/reset", s.handleReset)
		protected.Get("/ENSEK/energy", s.handleEnergy)
		protected.Get("/ENSEK/orders", s.handleListOrders)
		protected.Get("/ENSEK/orders/{orderID}", s.handleGetOrder)
		protected.Put("/ENSEK/orders/{orderID}", s.handleUpdateOrder)
		protected.Delete("/ENSEK/orders/{orderID}", s.handleDeleteOrder)
		protected.Put("/ENSEK/buy/{energyID}/{quantity}", s.handleBuy)
	})

	return r
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username != s.username || req.Password != s.password {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.signToken(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"message":      "Success",
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.seed()
	s.mu.Unlock()

	token, err := s.signToken(s.username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"message":      "Success",
	})
}

func (s *Server) handleEnergy(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	snapshot := make(map[string]energyEntry, len(s.energy))
	for k, v := range s.energy {
		snapshot[k] = v
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	encoded := make([]json.RawMessage, 0, len(s.orders))
	for _, o := range s.orders {
		encoded = append(encoded, encodeOrder(o))
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, encoded)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	s.mu.Lock()
	o, ok := s.findOrder(orderID)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeRaw(w, http.StatusOK, encodeOrder(o))
}

func (s *Server) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	quantity, err := strconv.ParseInt(r.URL.Query().Get("quantity"), 10, 64)
	if err != nil || quantity < 0 {
		writeError(w, http.StatusBadRequest, "quantity must be a non-negative integer")
		return
	}
	energyID, err := strconv.Atoi(r.URL.Query().Get("energy_id"))
	if err != nil || !domain.EnergyType(energyID).Valid() {
		writeError(w, http.StatusBadRequest, "energy_id must name a known energy type")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].id == orderID {
			s.orders[i].quantity = quantity
			s.orders[i].energyID = energyID
			s.orders[i].fuel = domain.EnergyType(energyID).Key()
			s.orders[i].time = time.Now().UTC().Format(time.RFC1123)
			writeJSON(w, http.StatusOK, map[string]string{
				"message": fmt.Sprintf("Order %s updated", orderID),
			})
			return
		}
	}
	writeError(w, http.StatusNotFound, "order not found")
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].id == orderID {
			s.orders = append(s.orders[:i], s.orders[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]string{
				"message": fmt.Sprintf("Order %s deleted", orderID),
			})
			return
		}
	}
	writeError(w, http.StatusNotFound, "order not found")
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	energyID, err := strconv.Atoi(chi.URLParam(r, "energyID"))
	if err != nil || !domain.EnergyType(energyID).Valid() {
		writeError(w, http.StatusBadRequest, "unknown energy type")
		return
	}
	quantity, err := strconv.ParseInt(chi.URLParam(r, "quantity"), 10, 64)
	if err != nil || quantity <= 0 {
		writeError(w, http.StatusBadRequest, "quantity must be a positive integer")
		return
	}

	et := domain.EnergyType(energyID)
	key := et.Key()

	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.energy[key]
	if entry.QuantityOfUnits < quantity {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("There is no %s fuel to purchase.", key),
		})
		return
	}
	entry.QuantityOfUnits -= quantity
	s.energy[key] = entry

	cost := float64(quantity) * entry.PricePerUnit
	o := order{
		id:       uuid.NewString(),
		fuel:     key,
		quantity: quantity,
		energyID: energyID,
		time:     time.Now().UTC().Format(time.RFC1123),
	}
	s.orders = append(s.orders, o)

	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf(
			"You have purchased %d %s at a cost of %.2f there are %d units remaining. Your order id is %s.",
			quantity, et.Unit(), cost, entry.QuantityOfUnits, o.id),
	})
}

func (s *Server) findOrder(orderID string) (order, bool) {
	for _, o := range s.orders {
		if o.id == orderID {
			return o, true
		}
	}
	return order{}, false
}

func (s *Server) signToken(subject string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": now.Add(s.tokenTTL).Unix(),
		"iat": now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secret))
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.secret), nil
		})
		if err != nil || !parsed.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// encodeOrder serializes one order, preserving the legacy "Id" key on
// rows that carry it.
func encodeOrder(o order) json.RawMessage {
	idKey := "id"
	if o.legacyKey {
		idKey = "Id"
	}
	body := map[string]interface{}{
		idKey:       o.id,
		"fuel":      o.fuel,
		"quantity":  o.quantity,
		"energy_id": o.energyID,
		"time":      o.time,
	}
	raw, _ := json.Marshal(body)
	return raw
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, target interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
