package dna

import (
	"context"
	"log/slog"

	"github.com/kiosklab/corelink/pkg/upstream"
)

// DefaultTransactionLimit is used when FetchTransactions gets no limit.
const DefaultTransactionLimit = 10

// Transaction is one posted transaction. Amount is signed and formatted.
type Transaction struct {
	Date        string `json:"date"`
	Time        string `json:"time,omitempty"`
	Amount      string `json:"amount"`
	TypeCode    string `json:"type_code"`
	Description string `json:"description"`
	SourceCode  string `json:"source_code,omitempty"`
}

// TransactionTypes maps transaction type codes to descriptions for records
// that carry no description of their own.
var TransactionTypes = map[string]string{
	"CDSB": "Cost Disbursement",
	"CRCT": "Cost Receipt",
	"FRCT": "Fee Receipt",
	"FDSB": "Fee Disbursement",
	"CHAS": "Charge Assessment",
	"CHST": "Charge Satisfaction",
	"LCAP": "Loan Charge Capitalization",
	"PARS": "Participant Sold",
	"CLS":  "Closeout Withdrawal",
	"INT":  "Interest",
	"PEN":  "Penalty",
	"IW":   "Interest Withholding",
	"SW":   "State Withholding",
	"FW":   "Federal Withholding",
	"FIN":  "Financed Insurance",
	"FEE":  "Loan Fees",
	"COST": "Loan Costs",
	"SINS": "Simple Insurance",
	"MINS": "Pass Thru Insurance",
	"RFEE": "Reoccurring Fees",
	"DLR":  "Dealer Loans",
	"CHRG": "Loan Charges",
	"BYDN": "Buydown Subsidizing",
	"DEP":  "Deposit",
	"WTH":  "Withdraw",
	"SPMT": "Regular Payment",
	"CI":   "Check Issue",
	"GLR":  "General Ledger Receipt",
	"FWDP": "Fedwire Deposit",
	"FWDB": "Fedwire Withdrawal",
	"SFDP": "SWIFT Wire Deposit",
	"SFDB": "SWIFT Wire Withdrawal",
	"RTDP": "Real Time Payment Deposit",
	"RTDB": "Real Time Payment Withdrawal",
	"GLD":  "General Ledger Disbursement",
	"FWSF": "Fedwire Service Fee",
	"SFSF": "SWIFT Wire Service Fee",
	"RTSF": "Real Time Payment Service Fee",
	"FWR":  "Fedwire",
	"SWF":  "SWIFT",
	"UCFD": "Overdraft Protection Deposit",
	"RTP":  "Real Time Payment",
	"BOOK": "Book Transfer",
}

// FetchTransactions loads up to limit recent transactions of an account.
// An account without transactions gives an empty slice and no error.
func (c *Client) FetchTransactions(ctx context.Context, accountNumber string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = DefaultTransactionLimit
	}
	result, err := c.submit(ctx, KindTransactionHistory, Params{Reference: accountNumber, Limit: limit})
	if err != nil {
		return nil, err
	}
	txns := result.Transactions
	if len(txns) > limit {
		txns = txns[:limit]
	}
	slog.Debug("parsed transactions", "account", accountNumber, "count", len(txns))
	return txns, nil
}

func parseTransactions(responseBase, root *upstream.Node) []Transaction {
	records := findAllIn(responseBase, "Rtxn", transactionNamespaces)
	if len(records) == 0 {
		records = findAllIn(root, "Rtxn", transactionNamespaces)
	}

	txns := make([]Transaction, 0, len(records))
	for _, r := range records {
		date, clock := splitDateTime(fieldActivityDateTime.First(r))
		typeCode := fieldRtxnTypeCode.First(r)
		txns = append(txns, Transaction{
			Date:        date,
			Time:        clock,
			Amount:      FormatCurrency(fieldTransactionAmount.First(r)),
			TypeCode:    typeCode,
			Description: describe(r, typeCode),
			SourceCode:  fieldRtxnSourceCode.First(r),
		})
	}
	return txns
}

func describe(r *upstream.Node, typeCode string) string {
	if d := fieldExternalDescription.First(r); d != "" {
		return d
	}
	if d := fieldRtxnDescription.First(r); d != "" {
		return d
	}
	if d, ok := TransactionTypes[typeCode]; ok {
		return d
	}
	return "Type: " + typeCode
}
