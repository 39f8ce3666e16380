package upstream

// Fault returns the fault string of a SOAP 1.1 or 1.2 fault in root.
func Fault(root *Node) (string, bool) {
	fault := root.Find(AnyNamespace, "Fault")
	if fault == nil {
		return "", false
	}
	reason := Candidates{
		Elem(AnyNamespace, "faultstring"),
		Elem(AnyNamespace, "Text").Under(AnyNamespace, "Reason"),
		Elem(AnyNamespace, "faultcode"),
		Elem(AnyNamespace, "Value").Under(AnyNamespace, "Code"),
	}.First(fault)
	if reason == "" {
		reason = "SOAP fault"
	}
	return reason, true
}

// Rejection converts a non-2xx reply carrying a SOAP fault into an
// *UpstreamRejected. Any other error is returned unchanged.
func Rejection(op string, body []byte, err error) error {
	if len(body) == 0 {
		return err
	}
	root, parseErr := ParseTree(body)
	if parseErr != nil {
		return err
	}
	if reason, ok := Fault(root); ok {
		return &UpstreamRejected{Op: op, Stage: StageFault, Reason: reason}
	}
	return err
}
