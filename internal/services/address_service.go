package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/language"

	"github.com/openshop/api/internal/repositories"
)

const (
	addressIDPrefix       = "addr_"
	maxAddressFieldLength = 200
	maxPostalCodeLength   = 16
	maxPhoneLength        = 32
)

// AddressServiceDeps wires the address repository.
type AddressServiceDeps struct {
	Addresses   repositories.AddressRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type addressService struct {
	addresses repositories.AddressRepository
	now       func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

var _ AddressService = (*addressService)(nil)

func NewAddressService(deps AddressServiceDeps) (AddressService, error) {
	if deps.Addresses == nil {
		return nil, errors.New("address service: address repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &addressService{
		addresses: deps.Addresses,
		now:       func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

func (s *addressService) ListAddresses(ctx context.Context, actor Actor) ([]Address, error) {
	uid, err := requireUser(actor)
	if err != nil {
		return nil, err
	}
	addrs, err := s.addresses.ListByUser(ctx, uid)
	if err != nil {
		return nil, mapRepositoryError(err, ErrAddressNotFound)
	}
	return addrs, nil
}

func (s *addressService) CreateAddress(ctx context.Context, cmd SaveAddressCommand) (Address, error) {
	uid, err := requireUser(cmd.Actor)
	if err != nil {
		return Address{}, err
	}
	addr, err := cmd.normalise()
	if err != nil {
		return Address{}, err
	}
	now := s.now()
	addr.ID = addressIDPrefix + s.newID()
	addr.UserID = uid
	addr.CreatedAt = now
	addr.UpdatedAt = now
	return s.upsert(ctx, addr)
}

// UpdateAddress replaces every field of an address the actor owns. CreatedAt is kept.
func (s *addressService) UpdateAddress(ctx context.Context, cmd SaveAddressCommand) (Address, error) {
	uid, err := requireUser(cmd.Actor)
	if err != nil {
		return Address{}, err
	}
	id := strings.TrimSpace(cmd.AddressID)
	if id == "" {
		return Address{}, fmt.Errorf("%w: address id is required", ErrOrderInvalidInput)
	}
	addr, err := cmd.normalise()
	if err != nil {
		return Address{}, err
	}
	current, err := s.addresses.FindByID(ctx, uid, id)
	if err != nil {
		return Address{}, mapRepositoryError(err, ErrAddressNotFound)
	}
	addr.ID = current.ID
	addr.UserID = uid
	addr.CreatedAt = current.CreatedAt
	addr.UpdatedAt = s.now()
	return s.upsert(ctx, addr)
}

// DeleteAddress leaves placed orders untouched. They keep the address ID they were shipped to.
func (s *addressService) DeleteAddress(ctx context.Context, actor Actor, addressID string) error {
	uid, err := requireUser(actor)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return fmt.Errorf("%w: address id is required", ErrOrderInvalidInput)
	}
	if err := s.addresses.Delete(ctx, uid, id); err != nil {
		return mapRepositoryError(err, ErrAddressNotFound)
	}
	s.logger(ctx, "address.deleted", map[string]any{"userId": uid, "addressId": id})
	return nil
}

func (s *addressService) upsert(ctx context.Context, addr Address) (Address, error) {
	saved, err := s.addresses.Upsert(ctx, addr)
	if err != nil {
		mapped := mapRepositoryError(err, ErrAddressNotFound)
		s.logger(ctx, "address.save.failed", map[string]any{
			"userId":    addr.UserID,
			"addressId": addr.ID,
			"error":     mapped.Error(),
		})
		return Address{}, mapped
	}
	return saved, nil
}

// normalise trims every field, checks lengths and canonicalises the country to its ISO 3166
// alpha-2 code.
func (cmd SaveAddressCommand) normalise() (Address, error) {
	addr := Address{
		Recipient:  strings.TrimSpace(cmd.Recipient),
		Line1:      strings.TrimSpace(cmd.Line1),
		Line2:      strings.TrimSpace(cmd.Line2),
		City:       strings.TrimSpace(cmd.City),
		State:      strings.TrimSpace(cmd.State),
		PostalCode: strings.TrimSpace(cmd.PostalCode),
		Phone:      strings.TrimSpace(cmd.Phone),
	}
	required := []struct {
		name, value string
		limit       int
	}{
		{"recipient", addr.Recipient, maxAddressFieldLength},
		{"line1", addr.Line1, maxAddressFieldLength},
		{"city", addr.City, maxAddressFieldLength},
		{"postal_code", addr.PostalCode, maxPostalCodeLength},
	}
	for _, field := range required {
		if field.value == "" {
			return Address{}, fmt.Errorf("%w: %s is required", ErrOrderInvalidInput, field.name)
		}
		if utf8.RuneCountInString(field.value) > field.limit {
			return Address{}, fmt.Errorf("%w: %s exceeds %d characters", ErrOrderInvalidInput, field.name, field.limit)
		}
	}
	if utf8.RuneCountInString(addr.Line2) > maxAddressFieldLength || utf8.RuneCountInString(addr.State) > maxAddressFieldLength {
		return Address{}, fmt.Errorf("%w: address line exceeds %d characters", ErrOrderInvalidInput, maxAddressFieldLength)
	}
	if utf8.RuneCountInString(addr.Phone) > maxPhoneLength {
		return Address{}, fmt.Errorf("%w: phone exceeds %d characters", ErrOrderInvalidInput, maxPhoneLength)
	}

	region, err := language.ParseRegion(strings.TrimSpace(cmd.Country))
	if err != nil || !region.IsCountry() {
		return Address{}, fmt.Errorf("%w: country %q is not an ISO 3166 country code", ErrOrderInvalidInput, cmd.Country)
	}
	addr.Country = region.String()
	return addr, nil
}
