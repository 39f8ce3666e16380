package dna

import (
	"strings"

	"github.com/kiosklab/corelink/pkg/upstream"
)

// Result is the typed outcome of a SubmitRequest. Exactly one field is set,
// depending on the request kind.
type Result struct {
	Kind         RequestKind
	PersonNumber string
	Person       *Person
	Transactions []Transaction
}

// ParseEnvelope parses a SubmitRequest response for kind. It fails with
// *upstream.ParseError when the response has an unknown shape, with
// *upstream.UpstreamRejected when either success flag is false and with
// upstream.ErrNotFound when the operation succeeded without a record.
func ParseEnvelope(kind RequestKind, body []byte) (*Result, error) {
	op := kind.String()
	if _, err := kind.info(); err != nil {
		return nil, err
	}

	root, err := upstream.ParseTree(body)
	if err != nil {
		return nil, &upstream.ParseError{Op: op, Reason: "malformed XML", Payload: body, Err: err}
	}

	responseBase, err := gate(op, kind, root, body)
	if err != nil {
		return nil, err
	}

	result := &Result{Kind: kind}
	switch kind {
	case KindPersonByMemberNumber:
		result.PersonNumber, err = parsePersonNumber(responseBase)
	case KindTaxIDDataByMemberNumber, KindTaxIDDataByPersonNumber:
		result.Person, err = parsePerson(responseBase)
	case KindTransactionHistory:
		result.Transactions = parseTransactions(responseBase, root)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// gate applies the two success flags and returns the ResponseBase for kind.
func gate(op string, kind RequestKind, root *upstream.Node, body []byte) (*upstream.Node, error) {
	if reason, ok := upstream.Fault(root); ok {
		return nil, &upstream.UpstreamRejected{Op: op, Stage: upstream.StageFault, Reason: reason}
	}

	var userAuth *upstream.Node
	for _, ns := range personNamespaces {
		if userAuth = root.Find(ns, "UserAuthentication"); userAuth != nil {
			break
		}
	}
	if userAuth == nil {
		return nil, &upstream.ParseError{Op: op, Reason: "no UserAuthentication element", Payload: body}
	}
	if !isTrue(fieldWasSuccessful.First(userAuth)) {
		return nil, &upstream.UpstreamRejected{
			Op:     op,
			Stage:  upstream.StageAuthentication,
			Reason: firstErrorMessage(userAuth, "request was not authenticated"),
		}
	}

	responseBase := findResponseBase(root, kind.ResponseType())
	if responseBase == nil {
		return nil, &upstream.ParseError{Op: op, Reason: "no " + kind.ResponseType() + " in response", Payload: body}
	}

	// A missing inner flag is accepted; only an explicit false rejects.
	if flag := fieldWasSuccessful.First(responseBase); flag != "" && !isTrue(flag) {
		return nil, &upstream.UpstreamRejected{
			Op:     op,
			Stage:  upstream.StageOperation,
			Reason: firstErrorMessage(responseBase, kind.ResponseType()+" was not successful"),
		}
	}
	return responseBase, nil
}

func findResponseBase(root *upstream.Node, responseType string) *upstream.Node {
	for _, ns := range personNamespaces {
		for _, rb := range root.FindAll(ns, "ResponseBase") {
			if t, ok := rb.Attr(nsXSI, "type"); ok && upstream.LocalType(t) == responseType {
				return rb
			}
		}
	}
	return nil
}

// firstErrorMessage returns the first non-empty ErrorMessage below n.
func firstErrorMessage(n *upstream.Node, fallback string) string {
	for _, ns := range personNamespaces {
		for _, e := range n.FindAll(ns, "ErrorMessage") {
			if v := e.Value(); v != "" {
				return v
			}
		}
	}
	return fallback
}

func isTrue(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

func parsePersonNumber(responseBase *upstream.Node) (string, error) {
	person := childIn(responseBase, "Person", []string{nsMessages, nsCore, ""})
	if person == nil {
		return "", upstream.ErrNotFound
	}
	number := fieldPersonNumber.First(person)
	if number == "" {
		return "", upstream.ErrNotFound
	}
	return number, nil
}
