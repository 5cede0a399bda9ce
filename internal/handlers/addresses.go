package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openshop/api/internal/platform/auth"
	"github.com/openshop/api/internal/services"
)

// AddressHandlers expose the authenticated user's address book under /me.
type AddressHandlers struct {
	authn     *auth.Authenticator
	addresses services.AddressService
}

// NewAddressHandlers constructs address handlers. authn may be nil when authentication runs upstream.
func NewAddressHandlers(authn *auth.Authenticator, addresses services.AddressService) *AddressHandlers {
	return &AddressHandlers{authn: authn, addresses: addresses}
}

// Routes registers the /me/addresses endpoints.
func (h *AddressHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Route("/addresses", func(addrs chi.Router) {
		addrs.Get("/", h.listAddresses)
		addrs.Post("/", h.createAddress)
		addrs.Put("/{addressID}", h.updateAddress)
		addrs.Delete("/{addressID}", h.deleteAddress)
	})
}

type saveAddressRequest struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

func (req saveAddressRequest) command(actor services.Actor, addressID string) services.SaveAddressCommand {
	return services.SaveAddressCommand{
		Actor:      actor,
		AddressID:  addressID,
		Recipient:  req.Recipient,
		Line1:      req.Line1,
		Line2:      req.Line2,
		City:       req.City,
		State:      req.State,
		PostalCode: req.PostalCode,
		Country:    req.Country,
		Phone:      req.Phone,
	}
}

type addressPayload struct {
	ID         string `json:"id"`
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

type addressResponse struct {
	Address addressPayload `json:"address"`
}

type addressListResponse struct {
	Items []addressPayload `json:"items"`
}

func (h *AddressHandlers) listAddresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}

	addrs, err := h.addresses.ListAddresses(ctx, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	items := make([]addressPayload, 0, len(addrs))
	for _, addr := range addrs {
		items = append(items, buildAddressPayload(addr))
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, http.StatusOK, addressListResponse{Items: items})
}

func (h *AddressHandlers) createAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}

	var req saveAddressRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	addr, err := h.addresses.CreateAddress(ctx, req.command(actor, ""))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, addressResponse{Address: buildAddressPayload(addr)})
}

func (h *AddressHandlers) updateAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}

	var req saveAddressRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	addr, err := h.addresses.UpdateAddress(ctx, req.command(actor, strings.TrimSpace(chi.URLParam(r, "addressID"))))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, addressResponse{Address: buildAddressPayload(addr)})
}

func (h *AddressHandlers) deleteAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	actor, ok := actorFromRequest(ctx, w)
	if !ok {
		return
	}

	if err := h.addresses.DeleteAddress(ctx, actor, strings.TrimSpace(chi.URLParam(r, "addressID"))); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		ID:         addr.ID,
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
		CreatedAt:  formatTime(addr.CreatedAt),
		UpdatedAt:  formatTime(addr.UpdatedAt),
	}
}
