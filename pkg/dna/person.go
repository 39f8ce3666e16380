package dna

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kiosklab/corelink/pkg/upstream"
)

// Person is a member as returned by the tax id data inquiry.
type Person struct {
	PersonNumber string    `json:"person_number"`
	MemberNumber string    `json:"member_number"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	DateOfBirth  string    `json:"date_of_birth,omitempty"`
	TaxID        string    `json:"-"`
	IsDeceased   *bool     `json:"is_deceased,omitempty"`
	IsActive     bool      `json:"is_active"`
	IsEmployee   bool      `json:"is_employee"`
	AddDate      string    `json:"add_date,omitempty"`
	LastUpdated  string    `json:"last_updated,omitempty"`
	Address      Address   `json:"address"`
	Email        string    `json:"email,omitempty"`
	Phones       Phones    `json:"phones"`
	Accounts     []Account `json:"accounts"`
}

// Address is the primary postal address.
type Address struct {
	Line1 string `json:"line1,omitempty"`
	City  string `json:"city,omitempty"`
	State string `json:"state,omitempty"`
	Zip   string `json:"zip,omitempty"`
}

func (a Address) String() string {
	s := strings.TrimSpace(a.State + " " + a.Zip)
	parts := make([]string, 0, 3)
	for _, p := range []string{a.Line1, a.City, s} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Phones holds the classified phone numbers. Primary is the last complete
// number in the record, whatever its usage.
type Phones struct {
	Home     string `json:"home,omitempty"`
	Business string `json:"business,omitempty"`
	Primary  string `json:"primary,omitempty"`
}

// Account is an account held by a Person. Balances are display strings.
type Account struct {
	Number           string `json:"number"`
	Type             string `json:"type"`
	ProductCode      string `json:"product_code"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"available_balance"`
	DateOpened       string `json:"date_opened,omitempty"`
	Status           string `json:"status,omitempty"`
}

// FullName joins first and last name.
func (p *Person) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Age is the age in whole years at now. It reports false when the date of
// birth is missing or not in the upstream format.
func (p *Person) Age(now time.Time) (int, bool) {
	return Age(p.DateOfBirth, now)
}

// FetchPersonByMemberNumber loads a person and their accounts by member
// number. When the direct inquiry finds nothing, the person number is
// resolved separately and the record is loaded by person number.
func (c *Client) FetchPersonByMemberNumber(ctx context.Context, memberNumber string) (*Person, error) {
	person, err := c.fetchPerson(ctx, KindTaxIDDataByMemberNumber, memberNumber)
	if !errors.Is(err, upstream.ErrNotFound) {
		return person, err
	}

	slog.Info("member not found by member number, trying person number", "member_number", memberNumber)
	personNumber, err := c.LookupPersonNumber(ctx, memberNumber)
	if err != nil {
		return nil, err
	}
	return c.FetchPersonByPersonNumber(ctx, personNumber)
}

// FetchPersonByPersonNumber loads a person and their accounts by person number.
func (c *Client) FetchPersonByPersonNumber(ctx context.Context, personNumber string) (*Person, error) {
	return c.fetchPerson(ctx, KindTaxIDDataByPersonNumber, personNumber)
}

// LookupPersonNumber resolves a member number to a person number.
func (c *Client) LookupPersonNumber(ctx context.Context, memberNumber string) (string, error) {
	result, err := c.submit(ctx, KindPersonByMemberNumber, Params{Reference: memberNumber})
	if err != nil {
		return "", err
	}
	return result.PersonNumber, nil
}

func (c *Client) fetchPerson(ctx context.Context, kind RequestKind, reference string) (*Person, error) {
	result, err := c.submit(ctx, kind, Params{Reference: reference})
	if err != nil {
		return nil, err
	}
	slog.Debug("parsed person", "person_number", result.Person.PersonNumber, "accounts", len(result.Person.Accounts))
	return result.Person, nil
}

func parsePerson(responseBase *upstream.Node) (*Person, error) {
	node := childIn(responseBase, "Person", personNamespaces)
	if node == nil {
		return nil, upstream.ErrNotFound
	}

	p := &Person{
		PersonNumber: fieldPersonNumber.First(node),
		MemberNumber: fieldMemberNumber.First(node),
		FirstName:    fieldFirstName.First(node),
		LastName:     fieldLastName.First(node),
		DateOfBirth:  fieldDateBirth.First(node),
		TaxID:        fieldTaxID.First(node),
		IsActive:     strings.EqualFold(fieldMemberGroup.First(node), "live"),
		AddDate:      fieldAddDate.First(node),
		LastUpdated:  fieldLastUpdated.First(node),
		Address:      parseAddress(node),
		Email:        parseEmail(node),
		Phones:       parsePhones(node),
		IsEmployee:   parseIsEmployee(node),
		Accounts:     parseAccounts(responseBase),
	}
	if v := fieldIsDeceased.First(node); v != "" {
		deceased := isTrue(v)
		p.IsDeceased = &deceased
	}
	return p, nil
}

func parseAddress(person *upstream.Node) Address {
	if addresses := childIn(person, "PersonAddresses", personNamespaces); addresses != nil {
		if addr := childIn(addresses, "GetTaxIdDataPersonOrganizationAddress", personNamespaces); addr != nil {
			var line1 string
			if lines := childIn(addr, "AddressLines", personNamespaces); lines != nil {
				line1 = fieldAddressLineText.First(childIn(lines, "GetTaxIdDataAddressLine", personNamespaces))
			}
			return Address{
				Line1: line1,
				City:  fieldCityName.First(addr),
				State: fieldState.First(addr),
				Zip:   fieldZipCode.First(addr),
			}
		}
	}

	// older releases list all addresses and flag the primary one
	if addresses := childIn(person, "Addresses", personNamespaces); addresses != nil {
		for _, addr := range childrenIn(addresses, "Address", personNamespaces) {
			if fieldAddressUseCode.First(addr) != "PRI" {
				continue
			}
			var line1 string
			if lines := childIn(addr, "AddressLines", personNamespaces); lines != nil {
				line1 = childIn(lines, "AddressLine", personNamespaces).Value()
			}
			return Address{
				Line1: line1,
				City:  fieldCityName.First(addr),
				State: fieldState.First(addr),
				Zip:   fieldZipCode.First(addr),
			}
		}
	}
	return Address{}
}

func parseEmail(person *upstream.Node) string {
	emails := childIn(person, "EmailAddresses", personNamespaces)
	for _, e := range childrenIn(emails, "EmailAddress", personNamespaces) {
		if v := fieldEmail.First(e); v != "" {
			return v
		}
	}
	return ""
}

func parsePhones(person *upstream.Node) Phones {
	var phones Phones
	list := childIn(person, "PersonPhones", personNamespaces)
	for _, ph := range childrenIn(list, "GetTaxIdDataPhone", personNamespaces) {
		area, exchange, number := fieldAreaCode.First(ph), fieldExchange.First(ph), fieldNumber.First(ph)
		if area == "" || exchange == "" || number == "" {
			continue
		}
		full := area + exchange + number
		phones.Primary = full
		switch fieldUsageCode.First(ph) {
		case "PER":
			phones.Home = full
		case "BUS":
			phones.Business = full
		}
	}
	return phones
}

func parseIsEmployee(person *upstream.Node) bool {
	types := childIn(person, "PersonTypes", personNamespaces)
	for _, pt := range childrenIn(types, "PersonType", personNamespaces) {
		if fieldPersonTypeCode.First(pt) == "EMP" {
			return true
		}
	}
	return false
}

func parseAccounts(responseBase *upstream.Node) []Account {
	accounts := []Account{}
	list := childIn(responseBase, "Accounts", personNamespaces)
	if list == nil {
		slog.Debug("no Accounts element in response")
		return accounts
	}
	for _, a := range childrenIn(list, "AccountTaxIdData", personNamespaces) {
		accounts = append(accounts, Account{
			Number:           fieldAccountNumber.First(a),
			Type:             fieldMajorAccountType.First(a),
			ProductCode:      fieldMinorAccountType.First(a),
			Balance:          FormatCurrency(fieldBalanceAmount.First(a)),
			AvailableBalance: FormatCurrency(fieldAvailableBalance.First(a)),
			DateOpened:       fieldDateOpened.First(a),
			Status:           fieldAccountStatus.First(a),
		})
	}
	return accounts
}
