package loans

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/kiosklab/corelink/pkg/upstream"
)

const (
	opSearch  = "LoanSearch"
	opGetLoan = "GetLoan"

	nsCLF = "http://www.meridianlink.com/CLF"
)

// Loan is one entry of a search result.
type Loan struct {
	Type             string `json:"type"`
	ID               string `json:"id"`
	Number           string `json:"number"`
	Status           string `json:"status"`
	ApprovalDate     string `json:"approval_date,omitempty"`
	BorrowerName     string `json:"borrower_name"`
	CreatedDate      string `json:"created_date,omitempty"`
	LastModifiedDate string `json:"last_modified_date,omitempty"`
	BookingDate      string `json:"booking_date,omitempty"`
}

// LoanDetail holds the fields of a loan application that depend on its type:
// PL (personal), VL (vehicle) or XA (deposit account opening).
type LoanDetail struct {
	Number           string `json:"number"`
	Type             string `json:"type"`
	CreditScore      string `json:"credit_score,omitempty"`
	FundingDate      string `json:"funding_date,omitempty"`
	AmountAdvanced   string `json:"amount_advanced,omitempty"`
	VehicleValue     string `json:"vehicle_value,omitempty"`
	PolicyNumber     string `json:"policy_number,omitempty"`
	InsuranceCompany string `json:"insurance_company,omitempty"`
	AccountName      string `json:"account_name,omitempty"`
	AmountDeposit    string `json:"amount_deposit,omitempty"`
	Rate             string `json:"rate,omitempty"`
}

type login struct {
	UserID   string `xml:"api_user_id,attr"`
	Password string `xml:"api_password,attr"`
}

type searchRequest struct {
	XMLName xml.Name `xml:"REQUEST"`
	Login   login    `xml:"LOGIN"`
	Query   struct {
		BorrowerSSN string `xml:"borrower_ssn,attr"`
	} `xml:"SEARCH_QUERY"`
}

type getLoanRequest struct {
	XMLName xml.Name `xml:"INPUT"`
	Version string   `xml:"version,attr"`
	Login   login    `xml:"LOGIN"`
	Loan    struct {
		ID                      string `xml:"loan_id,attr"`
		IncludeUnderwritingInfo string `xml:"include_underwriting_info,attr"`
	} `xml:"REQUEST>LOAN"`
}

func buildSearchRequest(cfg Config, ssn string) ([]byte, error) {
	req := searchRequest{Login: login{UserID: cfg.UserID, Password: cfg.Password}}
	req.Query.BorrowerSSN = ssn
	body, err := xml.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling search request: %w", err)
	}
	return body, nil
}

func buildGetLoanRequest(cfg Config, loanID string) ([]byte, error) {
	req := getLoanRequest{Version: "2.1", Login: login{UserID: cfg.UserID, Password: cfg.Password}}
	req.Loan.ID = loanID
	req.Loan.IncludeUnderwritingInfo = "Y"
	body, err := xml.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling get loan request: %w", err)
	}
	return body, nil
}

// rejection reports an ERROR element the API sends instead of a result.
func rejection(op string, root *upstream.Node) error {
	errNode := root.Find(upstream.AnyNamespace, "ERROR")
	if root.Is(upstream.AnyNamespace, "ERROR") {
		errNode = root
	}
	if errNode == nil {
		return nil
	}
	reason := errNode.Value()
	if reason == "" {
		reason, _ = errNode.Attr("", "type")
	}
	if reason == "" {
		reason = "request failed"
	}
	return &upstream.UpstreamRejected{Op: op, Stage: upstream.StageOperation, Reason: reason}
}

func attr(n *upstream.Node, name string) string {
	v, _ := n.Attr("", name)
	return strings.TrimSpace(v)
}

func parseSearchResponse(body []byte) ([]Loan, error) {
	root, err := upstream.ParseTree(body)
	if err != nil {
		return nil, &upstream.ParseError{Op: opSearch, Reason: "malformed XML", Payload: body, Err: err}
	}
	if err := rejection(opSearch, root); err != nil {
		return nil, err
	}

	loans := []Loan{}
	results := root.Find(upstream.AnyNamespace, "SEARCH_RESULTS")
	if results == nil {
		return loans, nil
	}
	for _, l := range results.ChildrenNamed(upstream.AnyNamespace, "LOAN") {
		name := strings.Join(strings.Fields(strings.Join([]string{
			attr(l, "borrower_fname"), attr(l, "borrower_mname"), attr(l, "borrower_lname"),
		}, " ")), " ")
		loans = append(loans, Loan{
			Type:             attr(l, "loan_type"),
			ID:               attr(l, "loan_id"),
			Number:           attr(l, "loan_num"),
			Status:           attr(l, "loan_status"),
			ApprovalDate:     attr(l, "approval_date"),
			BorrowerName:     name,
			CreatedDate:      attr(l, "create_date"),
			LastModifiedDate: attr(l, "last_modified_date"),
			BookingDate:      attr(l, "booking_date"),
		})
	}
	return loans, nil
}

// find returns the first descendant reached by path, trying the CLF
// namespace before unqualified names at every step.
func find(n *upstream.Node, path ...string) *upstream.Node {
	cur := n
	for i, local := range path {
		var next *upstream.Node
		for _, ns := range []string{nsCLF, ""} {
			if i == 0 {
				next = cur.Find(ns, local)
			} else {
				next = cur.Child(ns, local)
			}
			if next != nil {
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

func parseGetLoanResponse(body []byte) (*LoanDetail, error) {
	root, err := upstream.ParseTree(body)
	if err != nil {
		return nil, &upstream.ParseError{Op: opGetLoan, Reason: "malformed XML", Payload: body, Err: err}
	}
	if err := rejection(opGetLoan, root); err != nil {
		return nil, err
	}

	var data *upstream.Node
	if response := root.Find(upstream.AnyNamespace, "RESPONSE"); response != nil {
		data = response.Child(upstream.AnyNamespace, "LOAN_DATA")
	}
	if data == nil {
		return nil, &upstream.ParseError{Op: opGetLoan, Reason: "no RESPONSE/LOAN_DATA element", Payload: body}
	}

	detail := &LoanDetail{
		Number: attr(data, "loan_number"),
		Type:   attr(data, "loan_type"),
	}
	switch detail.Type {
	case "PL":
		if applicant := find(data, "PERSONAL_LOAN", "APPLICANTS", "APPLICANT"); applicant != nil {
			detail.CreditScore = attr(applicant, "credit_score")
		}
		if funding := find(data, "FUNDING"); funding != nil {
			detail.FundingDate = attr(funding, "funding_date")
			detail.AmountAdvanced = attr(funding, "amount_advanced")
		}
	case "VL":
		if vehicle := find(data, "VEHICLE_LOAN", "VEHICLES", "VEHICLE"); vehicle != nil {
			detail.VehicleValue = attr(vehicle, "vehicle_value")
			if insurance := find(vehicle, "INSURANCE"); insurance != nil {
				detail.PolicyNumber = attr(insurance, "policy_number")
			}
		}
		for _, ns := range []string{nsCLF, ""} {
			for _, contact := range data.FindAll(ns, "CONTACT_INFO") {
				if attr(contact, "contact_type") == "INSAGENT" && detail.InsuranceCompany == "" {
					detail.InsuranceCompany = attr(contact, "company_name")
				}
			}
		}
	case "XA":
		if account := find(data, "APPROVED_ACCOUNTS", "ACCOUNT_TYPE"); account != nil {
			detail.AccountName = attr(account, "account_name")
			detail.AmountDeposit = attr(account, "amount_deposit")
			detail.Rate = attr(account, "rate")
		}
	}
	return detail, nil
}
