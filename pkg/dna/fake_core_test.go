package dna

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const signonResponse = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <DirectSignonResponse xmlns="http://www.opensolutions.com/">
      <DirectSignonResult>&lt;?xml version="1.0" encoding="utf-16"?&gt;
&lt;DirectSSOResponse&gt;&lt;SSOTicket&gt;TICKET-1&lt;/SSOTicket&gt;&lt;/DirectSSOResponse&gt;</DirectSignonResult>
    </DirectSignonResponse>
  </soap:Body>
</soap:Envelope>`

const signonRejectedResponse = `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <DirectSignonResponse xmlns="http://www.opensolutions.com/">
      <DirectSignonResult>&lt;DirectSSOResponse&gt;&lt;Errors&gt;&lt;Error&gt;&lt;ErrorMessage&gt;Invalid password&lt;/ErrorMessage&gt;&lt;/Error&gt;&lt;/Errors&gt;&lt;/DirectSSOResponse&gt;</DirectSignonResult>
    </DirectSignonResponse>
  </soap:Body>
</soap:Envelope>`

const whoIsResponse = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <WhoIsResponse xmlns="http://www.opensolutions.com/">
      <WhoIsResult>TOKEN-1</WhoIsResult>
    </WhoIsResponse>
  </soap:Body>
</soap:Envelope>`

// submitResponse wraps response bases in a SubmitRequest reply. authOK
// controls the outer UserAuthentication flag.
func submitResponse(authOK bool, responseBases ...string) string {
	flag := "true"
	errs := ""
	if !authOK {
		flag = "false"
		errs = `<Errors><Error><ErrorMessage>Invalid SSO ticket</ErrorMessage></Error></Errors>`
	}
	return `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <SubmitRequestResponse xmlns="http://www.opensolutions.com/CoreApi">
      <SubmitRequestResult xmlns:a="http://schemas.datacontract.org/2004/07/OpenSolutions.CoreApiService.Services.Messages" xmlns:i="http://www.w3.org/2001/XMLSchema-instance">
        <Responses>` + strings.Join(responseBases, "\n") + `</Responses>
        <UserAuthentication>` + errs + `<WasSuccessful>` + flag + `</WasSuccessful></UserAuthentication>
      </SubmitRequestResult>
    </SubmitRequestResponse>
  </s:Body>
</s:Envelope>`
}

// personFields uses P: as a placeholder prefix, see personXML.
const personFields = `
  <P:PersonNumber>5001</P:PersonNumber>
  <P:FirstName>Ada</P:FirstName>
  <P:LastName>Lovelace</P:LastName>
  <P:IsDeceased>false</P:IsDeceased>
  <P:LastUpdated>2024-05-01T10:00:00</P:LastUpdated>
  <P:DateBirth>1990-06-15T00:00:00</P:DateBirth>
  <P:AddDate>2010-01-01T00:00:00</P:AddDate>
  <P:MemberGroup>LIVE</P:MemberGroup>
  <P:MemberNumber>12345</P:MemberNumber>
  <P:TaxId>123456789</P:TaxId>
  <P:PersonAddresses>
    <P:GetTaxIdDataPersonOrganizationAddress>
      <P:AddressLines><P:GetTaxIdDataAddressLine><P:AddressLineText>1 Main St</P:AddressLineText></P:GetTaxIdDataAddressLine></P:AddressLines>
      <P:CityName>Springfield</P:CityName>
      <P:State>IL</P:State>
      <P:ZipCd>62701</P:ZipCd>
    </P:GetTaxIdDataPersonOrganizationAddress>
  </P:PersonAddresses>
  <P:EmailAddresses><P:EmailAddress><P:Email></P:Email></P:EmailAddress><P:EmailAddress><P:Email>ada@example.com</P:Email></P:EmailAddress></P:EmailAddresses>
  <P:PersonPhones>
    <P:GetTaxIdDataPhone><P:UsageCode>PER</P:UsageCode><P:AreaCode>217</P:AreaCode><P:Exchange>555</P:Exchange><P:Number>0100</P:Number></P:GetTaxIdDataPhone>
    <P:GetTaxIdDataPhone><P:UsageCode>BUS</P:UsageCode><P:AreaCode>217</P:AreaCode><P:Exchange>555</P:Exchange><P:Number>0199</P:Number></P:GetTaxIdDataPhone>
    <P:GetTaxIdDataPhone><P:UsageCode>PER</P:UsageCode><P:AreaCode>217</P:AreaCode></P:GetTaxIdDataPhone>
  </P:PersonPhones>
  <P:PersonTypes><P:PersonType><P:PersonTypeCode>MBR</P:PersonTypeCode></P:PersonType><P:PersonType><P:PersonTypeCode>EMP</P:PersonTypeCode></P:PersonType></P:PersonTypes>`

const accountsXML = `
<Accounts>
  <AccountTaxIdData>
    <AccountNumber>100</AccountNumber>
    <MajorAccountTypeCode>SAV</MajorAccountTypeCode>
    <CurrentMinorAccountTypeCode>RSAV</CurrentMinorAccountTypeCode>
    <BalanceAmount>1234.5</BalanceAmount>
    <AvailableBalance>n/a</AvailableBalance>
    <DateAccountOpened>2010-01-01T00:00:00</DateAccountOpened>
    <CurrentAccountStatusCode>ACT</CurrentAccountStatusCode>
  </AccountTaxIdData>
  <AccountTaxIdData>
    <AccountNumber>200</AccountNumber>
    <MajorAccountTypeCode>CNS</MajorAccountTypeCode>
    <BalanceAmount>-50</BalanceAmount>
    <AvailableBalance>0</AvailableBalance>
  </AccountTaxIdData>
</Accounts>`

// personXML renders the person record with its fields in the given form:
// "core" (default namespace), "a" (data contract prefix) or "none"
// (unqualified).
func personXML(form string) string {
	switch form {
	case "a":
		return `<Person>` + strings.ReplaceAll(personFields, "P:", "a:") + `</Person>`
	case "none":
		return `<Person xmlns="">` + strings.ReplaceAll(personFields, "P:", "") + `</Person>`
	default:
		return `<Person>` + strings.ReplaceAll(personFields, "P:", "") + `</Person>`
	}
}

func taxIDResponseBase(person string) string {
	return `<ResponseBase i:type="a:GetTaxIdDataResponse"><a:Errors/><a:WasSuccessful>true</a:WasSuccessful>` + accountsXML + person + `</ResponseBase>`
}

const personDetailResponseBase = `<ResponseBase i:type="a:PersonDetailInquiryResponse">
  <a:WasSuccessful>true</a:WasSuccessful>
  <a:Person persNbr="5001" memberNbr="12345"/>
</ResponseBase>`

const transactionsResponseBase = `<ResponseBase i:type="a:AccountTransactionHistoryResponse">
  <a:WasSuccessful>true</a:WasSuccessful>
  <a:Rtxns>
    <a:Rtxn>
      <a:ActivityDateTime>2024-05-01T09:15:30.123</a:ActivityDateTime>
      <a:TransactionAmount>-12</a:TransactionAmount>
      <a:RtxnTypeCode>WTH</a:RtxnTypeCode>
      <a:ExternalRtxnDescription>ATM WITHDRAWAL</a:ExternalRtxnDescription>
      <a:RtxnDescription>Withdrawal</a:RtxnDescription>
      <a:RtxnSourceCd>ATM</a:RtxnSourceCd>
    </a:Rtxn>
    <a:Rtxn>
      <a:ActivityDateTime>2024-04-30T00:00:00</a:ActivityDateTime>
      <a:TransactionAmount>250.5</a:TransactionAmount>
      <a:RtxnTypeCode>DEP</a:RtxnTypeCode>
      <a:RtxnDescription>Payroll</a:RtxnDescription>
    </a:Rtxn>
    <a:Rtxn>
      <a:ActivityDateTime>yesterday</a:ActivityDateTime>
      <a:TransactionAmount>oops</a:TransactionAmount>
      <a:RtxnTypeCode>INT</a:RtxnTypeCode>
    </a:Rtxn>
    <a:Rtxn>
      <a:TransactionAmount>1</a:TransactionAmount>
      <a:RtxnTypeCode>ZZZ</a:RtxnTypeCode>
    </a:Rtxn>
  </a:Rtxns>
</ResponseBase>`

const emptyTransactionsResponseBase = `<ResponseBase i:type="a:AccountTransactionHistoryResponse">
  <a:WasSuccessful>true</a:WasSuccessful>
  <a:Rtxns/>
</ResponseBase>`

// testClock is a settable clock safe for concurrent use.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeCore serves the sign-on endpoint and the core API from one server.
// submit decides the reply to a SubmitRequest by its body.
type fakeCore struct {
	server   *httptest.Server
	signons  atomic.Int64
	whoIs    atomic.Int64
	submits  atomic.Int64
	signon   func() (int, string)
	submit   func(body string) (int, string)
	lastBody atomic.Value
}

func newFakeCore(t *testing.T) *fakeCore {
	t.Helper()
	f := &fakeCore{
		signon: func() (int, string) { return http.StatusOK, signonResponse },
		submit: func(string) (int, string) { return http.StatusOK, submitResponse(true) },
	}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.lastBody.Store(string(body))
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		switch r.Header.Get("SOAPAction") {
		case actionDirectSignon:
			f.signons.Add(1)
			status, resp := f.signon()
			w.WriteHeader(status)
			io.WriteString(w, resp)
		case actionWhoIs:
			f.whoIs.Add(1)
			io.WriteString(w, whoIsResponse)
		case actionSubmitRequest:
			f.submits.Add(1)
			if !strings.Contains(string(body), "<Password>TOKEN-1</Password>") {
				t.Errorf("SubmitRequest without session token")
			}
			status, resp := f.submit(string(body))
			w.WriteHeader(status)
			io.WriteString(w, resp)
		default:
			t.Errorf("unexpected SOAPAction %q", r.Header.Get("SOAPAction"))
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeCore) config() Config {
	return Config{
		PIEEndpoint:     f.server.URL + "/pie",
		DNAEndpoint:     f.server.URL + "/core",
		DeviceID:        "KIOSK1",
		ProdEnvCode:     "TEST",
		ProdDefCode:     "DNA",
		UserID:          "svc",
		Password:        "secret",
		ApplicationID:   "KIOSK",
		NetworkNodeName: "NODE1",
	}
}

func (f *fakeCore) client(t *testing.T, opts ...ClientOption) *Client {
	t.Helper()
	opts = append([]ClientOption{WithHTTPClient(f.server.Client())}, opts...)
	c, err := NewClient(f.config(), opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func requestCode(body string) string {
	switch {
	case strings.Contains(body, "<RequestTypeCode>7711</RequestTypeCode>"):
		return "7711"
	case strings.Contains(body, "<RequestTypeCode>7725</RequestTypeCode>") && strings.Contains(body, "<MethodNumber>3</MethodNumber>"):
		return "7725/3"
	case strings.Contains(body, "<RequestTypeCode>7725</RequestTypeCode>") && strings.Contains(body, "<MethodNumber>4</MethodNumber>"):
		return "7725/4"
	case strings.Contains(body, "<RequestTypeCode>7703</RequestTypeCode>"):
		return "7703"
	}
	return ""
}
