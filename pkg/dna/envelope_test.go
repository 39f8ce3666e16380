package dna

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/kiosklab/corelink/pkg/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAuth = Authentication{ApplicationID: "KIOSK", NetworkNodeName: "NODE1", Token: "TOKEN-1"}

func TestBuildEnvelope(t *testing.T) {
	tests := []struct {
		kind     RequestKind
		params   Params
		contains []string
		absent   []string
	}{
		{
			kind:     KindPersonByMemberNumber,
			params:   Params{Reference: "12345"},
			contains: []string{`memberNbr="12345"`, "<RequestTypeCode>7711</RequestTypeCode>", `type="PersonDetailInquiryRequest"`},
			absent:   []string{"<MethodNumber>"},
		},
		{
			kind:     KindTaxIDDataByMemberNumber,
			params:   Params{Reference: "12345"},
			contains: []string{"<MethodNumber>3</MethodNumber>", "<ReferenceNumber>12345</ReferenceNumber>", "<RequestTypeCode>7725</RequestTypeCode>"},
		},
		{
			kind:     KindTaxIDDataByPersonNumber,
			params:   Params{Reference: "5001"},
			contains: []string{"<MethodNumber>4</MethodNumber>", "<ReferenceNumber>5001</ReferenceNumber>"},
		},
		{
			kind:     KindTransactionHistory,
			params:   Params{Reference: "100", Limit: 50},
			contains: []string{"<MethodNumber>2</MethodNumber>", "<AccountNumber>100</AccountNumber>", "<MaxReturnCount>50</MaxReturnCount>", "<RequestTypeCode>7703</RequestTypeCode>"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			body, err := BuildEnvelope(tt.kind, tt.params, testAuth)
			require.NoError(t, err)
			s := string(body)
			for _, c := range tt.contains {
				assert.Contains(t, s, c)
			}
			for _, a := range tt.absent {
				assert.NotContains(t, s, a)
			}
			assert.Contains(t, s, "<AuthorizationType>SingleSignOn</AuthorizationType>")
			assert.Contains(t, s, "<Password>TOKEN-1</Password>")
			assert.Contains(t, s, "<ShouldCommitOrRollback>false</ShouldCommitOrRollback>")

			root, err := upstream.ParseTree(body)
			require.NoError(t, err)
			assert.True(t, root.Is(nsSOAP, "Envelope"))
			rb := root.Find(nsCore, "RequestBase")
			require.NotNil(t, rb)
			typ, ok := rb.Attr(nsXSI, "type")
			assert.True(t, ok)
			assert.Equal(t, requestKinds[tt.kind].requestType, typ)
			ext := root.Find(nsCore, "ExtensionRequests")
			require.NotNil(t, ext)
			isNil, _ := ext.Attr(nsXSI, "nil")
			assert.Equal(t, "true", isNil)
		})
	}
}

func TestBuildEnvelopeEscapesValues(t *testing.T) {
	member := `1"/><Injected x="<&`
	body, err := BuildEnvelope(KindTaxIDDataByMemberNumber, Params{Reference: member}, testAuth)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "<Injected")

	root, err := upstream.ParseTree(body)
	require.NoError(t, err)
	assert.Equal(t, member, root.Find(nsCore, "ReferenceNumber").Value())
	assert.Nil(t, root.Find(upstream.AnyNamespace, "Injected"))
}

func TestBuildEnvelopeRejectsMissingValues(t *testing.T) {
	_, err := BuildEnvelope(KindTransactionHistory, Params{}, testAuth)
	assert.Error(t, err)

	_, err = BuildEnvelope(KindTransactionHistory, Params{Reference: "1"}, Authentication{ApplicationID: "KIOSK"})
	assert.Error(t, err)

	_, err = BuildEnvelope(RequestKind(99), Params{Reference: "1"}, testAuth)
	assert.Error(t, err)
}

func TestBuildSignonRequest(t *testing.T) {
	cfg := Config{DeviceID: "KIOSK1", UserID: "svc", Password: `p<&>"w`, ProdEnvCode: "TEST", ProdDefCode: "DNA"}
	now := time.Date(2024, 6, 1, 12, 30, 0, 123456000, time.UTC)

	body, err := BuildSignonRequest(cfg, now)
	require.NoError(t, err)

	root, err := upstream.ParseTree(body)
	require.NoError(t, err)
	op := root.Find(nsPIE, "DirectSignon")
	require.NotNil(t, op)

	inner := op.Child(nsPIE, "xmlRequest").Value()
	require.True(t, strings.HasPrefix(inner, "<?xml"))

	var req directSSORequest
	require.NoError(t, xml.Unmarshal([]byte(inner), &req))
	assert.Equal(t, "KIOSK1", req.DeviceID)
	assert.Equal(t, `p<&>"w`, req.Password)
	assert.Equal(t, "2024-06-01T12:30:00.123456", req.MessageDateTime)
	assert.NotEmpty(t, req.TrackingID)

	_, err = BuildSignonRequest(Config{DeviceID: "x"}, now)
	assert.Error(t, err)
}

func TestBuildWhoIsRequest(t *testing.T) {
	body, err := BuildWhoIsRequest("TICKET-1", time.Now())
	require.NoError(t, err)

	root, err := upstream.ParseTree(body)
	require.NoError(t, err)
	inner := root.Find(nsPIE, "xmlRequest").Value()

	var req whoIsRequest
	require.NoError(t, xml.Unmarshal([]byte(inner), &req))
	assert.Equal(t, "TICKET-1", req.SSOTicket)
	assert.Equal(t, "TICKET-1", req.LookupSSOTicket)

	_, err = BuildWhoIsRequest("", time.Now())
	assert.Error(t, err)
}
