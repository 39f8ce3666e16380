package dna

import "fmt"

const (
	nsPIE      = "http://www.opensolutions.com/"
	nsCore     = "http://www.opensolutions.com/CoreApi"
	nsMessages = "http://schemas.datacontract.org/2004/07/OpenSolutions.CoreApiService.Services.Messages"
	nsXSI      = "http://www.w3.org/2001/XMLSchema-instance"
	nsSOAP     = "http://schemas.xmlsoap.org/soap/envelope/"
)

const (
	actionDirectSignon  = `"http://www.opensolutions.com/DirectSignon"`
	actionWhoIs         = `"http://www.opensolutions.com/WhoIs"`
	actionSubmitRequest = `"http://www.opensolutions.com/CoreApi/ICoreApiService/SubmitRequest"`
)

// RequestKind selects one of the supported core API operations.
type RequestKind int

const (
	// KindPersonByMemberNumber resolves a member number to a person number (7711).
	KindPersonByMemberNumber RequestKind = iota + 1
	// KindTaxIDDataByMemberNumber loads person and accounts by member number (7725, method 3).
	KindTaxIDDataByMemberNumber
	// KindTaxIDDataByPersonNumber loads person and accounts by person number (7725, method 4).
	KindTaxIDDataByPersonNumber
	// KindTransactionHistory loads the recent transactions of an account (7703, method 2).
	KindTransactionHistory
)

type requestKindInfo struct {
	name         string
	code         int
	method       int
	requestType  string
	responseType string
}

var requestKinds = map[RequestKind]requestKindInfo{
	KindPersonByMemberNumber:    {"PersonByMemberNumber", 7711, 0, "PersonDetailInquiryRequest", "PersonDetailInquiryResponse"},
	KindTaxIDDataByMemberNumber: {"TaxIDDataByMemberNumber", 7725, 3, "GetTaxIdDataRequest", "GetTaxIdDataResponse"},
	KindTaxIDDataByPersonNumber: {"TaxIDDataByPersonNumber", 7725, 4, "GetTaxIdDataRequest", "GetTaxIdDataResponse"},
	KindTransactionHistory:      {"TransactionHistory", 7703, 2, "AccountTransactionHistoryRequest", "AccountTransactionHistoryResponse"},
}

func (k RequestKind) info() (requestKindInfo, error) {
	info, ok := requestKinds[k]
	if !ok {
		return requestKindInfo{}, fmt.Errorf("unsupported request kind %d", int(k))
	}
	return info, nil
}

// Code is the upstream request type code.
func (k RequestKind) Code() int {
	return requestKinds[k].code
}

// ResponseType is the i:type of the matching ResponseBase.
func (k RequestKind) ResponseType() string {
	return requestKinds[k].responseType
}

func (k RequestKind) String() string {
	if info, ok := requestKinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("RequestKind(%d)", int(k))
}
