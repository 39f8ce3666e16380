package dna

import (
	"encoding/xml"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
)

const messageDateTimeLayout = "2006-01-02T15:04:05.000000"

// Params are the user-controlled values of a SubmitRequest.
// Reference is a member, person or account number depending on the kind.
type Params struct {
	Reference string
	Limit     int
}

// Authentication is the UserAuthentication block of a SubmitRequest.
type Authentication struct {
	ApplicationID   string
	NetworkNodeName string
	Token           string
}

type pieEnvelope struct {
	XMLName xml.Name `xml:"http://schemas.xmlsoap.org/soap/envelope/ Envelope"`
	Body    pieBody  `xml:"http://schemas.xmlsoap.org/soap/envelope/ Body"`
}

type pieBody struct {
	Operation pieOperation
}

// pieOperation is DirectSignon or WhoIs. The inner request document travels
// as escaped text in xmlRequest.
type pieOperation struct {
	XMLName    xml.Name
	XMLRequest string `xml:"xmlRequest"`
}

type directSSORequest struct {
	XMLName         xml.Name `xml:"DirectSSORequest"`
	MessageDateTime string   `xml:"MessageDateTime,attr"`
	TrackingID      string   `xml:"TrackingId,attr"`
	DeviceID        string   `xml:"DeviceId"`
	UserID          string   `xml:"UserId"`
	Password        string   `xml:"Password"`
	ProdEnvCode     string   `xml:"ProdEnvCd"`
	ProdDefCode     string   `xml:"ProdDefCd"`
}

type whoIsRequest struct {
	XMLName         xml.Name `xml:"WhoIsRequest"`
	MessageDateTime string   `xml:"MessageDateTime,attr"`
	TrackingID      string   `xml:"TrackingId,attr"`
	SSOTicket       string   `xml:"SSOTicket,attr"`
	LookupSSOTicket string   `xml:"LookupSSOTicket"`
}

func marshalPIE(operation string, inner any) ([]byte, error) {
	innerXML, err := xml.Marshal(inner)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s request: %w", operation, err)
	}
	envelope := pieEnvelope{
		Body: pieBody{
			Operation: pieOperation{
				XMLName:    xml.Name{Space: nsPIE, Local: operation},
				XMLRequest: xml.Header + string(innerXML),
			},
		},
	}
	body, err := xml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshaling SOAP envelope: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// BuildSignonRequest builds the DirectSignon envelope. Missing credentials
// are reported before anything is built.
func BuildSignonRequest(cfg Config, now time.Time) ([]byte, error) {
	if cfg.DeviceID == "" || cfg.UserID == "" || cfg.Password == "" || cfg.ProdEnvCode == "" || cfg.ProdDefCode == "" {
		return nil, errors.New("missing required authentication parameters")
	}
	return marshalPIE("DirectSignon", directSSORequest{
		MessageDateTime: now.Format(messageDateTimeLayout),
		TrackingID:      ksuid.New().String(),
		DeviceID:        cfg.DeviceID,
		UserID:          cfg.UserID,
		Password:        cfg.Password,
		ProdEnvCode:     cfg.ProdEnvCode,
		ProdDefCode:     cfg.ProdDefCode,
	})
}

// BuildWhoIsRequest builds the WhoIs envelope exchanging ticket for a token.
func BuildWhoIsRequest(ticket string, now time.Time) ([]byte, error) {
	if ticket == "" {
		return nil, errors.New("SSO ticket is missing")
	}
	return marshalPIE("WhoIs", whoIsRequest{
		MessageDateTime: now.Format(messageDateTimeLayout),
		TrackingID:      ksuid.New().String(),
		SSOTicket:       ticket,
		LookupSSOTicket: ticket,
	})
}

type submitEnvelope struct {
	XMLName xml.Name   `xml:"http://schemas.xmlsoap.org/soap/envelope/ Envelope"`
	Body    submitBody `xml:"http://schemas.xmlsoap.org/soap/envelope/ Body"`
}

type submitBody struct {
	SubmitRequest submitRequest `xml:"http://www.opensolutions.com/CoreApi SubmitRequest"`
}

type submitRequest struct {
	Input submitInput `xml:"input"`
}

type submitInput struct {
	Input                  coreInput `xml:"Input"`
	ShouldCommitOrRollback bool      `xml:"ShouldCommitOrRollback"`
}

type coreInput struct {
	ExtensionRequests  nilElement         `xml:"ExtensionRequests"`
	Requests           []requestBase      `xml:"Requests>RequestBase"`
	UserAuthentication userAuthentication `xml:"UserAuthentication"`
}

type nilElement struct {
	Nil bool `xml:"http://www.w3.org/2001/XMLSchema-instance nil,attr"`
}

type requestBase struct {
	Type            string     `xml:"http://www.w3.org/2001/XMLSchema-instance type,attr"`
	Person          *personRef `xml:"Person,omitempty"`
	MethodNumber    int        `xml:"MethodNumber,omitempty"`
	ReferenceNumber string     `xml:"ReferenceNumber,omitempty"`
	RequestTypeCode int        `xml:"RequestTypeCode"`
	AccountNumber   string     `xml:"AccountNumber,omitempty"`
	MaxReturnCount  int        `xml:"MaxReturnCount,omitempty"`
}

type personRef struct {
	MemberNumber string `xml:"memberNbr,attr"`
}

type userAuthentication struct {
	ApplID            string `xml:"ApplID"`
	ApplNumber        int    `xml:"ApplNumber"`
	AuthorizationType string `xml:"AuthorizationType"`
	NetworkNodeName   string `xml:"NetworkNodeName"`
	Password          string `xml:"Password"`
}

// BuildEnvelope builds the SubmitRequest envelope for kind. All values are
// escaped by the XML encoder.
func BuildEnvelope(kind RequestKind, params Params, auth Authentication) ([]byte, error) {
	info, err := kind.info()
	if err != nil {
		return nil, err
	}
	if params.Reference == "" {
		return nil, fmt.Errorf("%s: reference number is required", kind)
	}
	if auth.ApplicationID == "" || auth.NetworkNodeName == "" || auth.Token == "" {
		return nil, errors.New("missing required parameters for API request")
	}

	req := requestBase{
		Type:            info.requestType,
		RequestTypeCode: info.code,
	}
	switch kind {
	case KindPersonByMemberNumber:
		req.Person = &personRef{MemberNumber: params.Reference}
	case KindTaxIDDataByMemberNumber, KindTaxIDDataByPersonNumber:
		req.MethodNumber = info.method
		req.ReferenceNumber = params.Reference
	case KindTransactionHistory:
		req.MethodNumber = info.method
		req.ReferenceNumber = params.Reference
		req.AccountNumber = params.Reference
		req.MaxReturnCount = params.Limit
	}

	envelope := submitEnvelope{
		Body: submitBody{
			SubmitRequest: submitRequest{
				Input: submitInput{
					Input: coreInput{
						ExtensionRequests: nilElement{Nil: true},
						Requests:          []requestBase{req},
						UserAuthentication: userAuthentication{
							ApplID:            auth.ApplicationID,
							AuthorizationType: "SingleSignOn",
							NetworkNodeName:   auth.NetworkNodeName,
							Password:          auth.Token,
						},
					},
				},
			},
		},
	}
	body, err := xml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshaling SOAP envelope: %w", err)
	}
	return body, nil
}
