package dna

import "github.com/kiosklab/corelink/pkg/upstream"

// Namespace priority for person and account data. Releases of the core API
// moved these elements between the CoreApi and the data contract namespace,
// and some responses carry them unqualified.
var personNamespaces = []string{nsCore, nsMessages, ""}

// Transaction records are published in the data contract namespace first.
var transactionNamespaces = []string{nsMessages, nsCore, ""}

func personField(local string) upstream.Candidates {
	return upstream.In(local, personNamespaces...)
}

func transactionField(local string) upstream.Candidates {
	return upstream.In(local, transactionNamespaces...)
}

// childIn returns the first direct child named local, trying namespaces in order.
func childIn(n *upstream.Node, local string, spaces []string) *upstream.Node {
	for _, s := range spaces {
		if c := n.Child(s, local); c != nil {
			return c
		}
	}
	return nil
}

// childrenIn returns the direct children named local in the first namespace
// that has any.
func childrenIn(n *upstream.Node, local string, spaces []string) []*upstream.Node {
	for _, s := range spaces {
		if c := n.ChildrenNamed(s, local); len(c) > 0 {
			return c
		}
	}
	return nil
}

// findAllIn returns the descendants named local in the first namespace that
// has any.
func findAllIn(n *upstream.Node, local string, spaces []string) []*upstream.Node {
	for _, s := range spaces {
		if c := n.FindAll(s, local); len(c) > 0 {
			return c
		}
	}
	return nil
}

var (
	fieldPersonNumber = upstream.Or(personField("PersonNumber"), upstream.Candidates{upstream.AttrOf("", "persNbr")})
	fieldFirstName    = personField("FirstName")
	fieldLastName     = personField("LastName")
	fieldIsDeceased   = personField("IsDeceased")
	fieldLastUpdated  = personField("LastUpdated")
	fieldDateBirth    = personField("DateBirth")
	fieldAddDate      = personField("AddDate")
	fieldMemberGroup  = personField("MemberGroup")
	fieldMemberNumber = personField("MemberNumber")
	fieldTaxID        = personField("TaxId")

	fieldCityName = personField("CityName")
	fieldState    = personField("State")
	fieldZipCode  = upstream.Or(personField("ZipCode"), personField("ZipCd"))

	fieldAddressLineText = personField("AddressLineText")
	fieldAddressUseCode  = upstream.Or(upstream.Candidates{upstream.AttrOf("", "AddrUseCd")}, personField("AddressUseCode"))

	fieldEmail          = personField("Email")
	fieldUsageCode      = personField("UsageCode")
	fieldAreaCode       = personField("AreaCode")
	fieldExchange       = personField("Exchange")
	fieldNumber         = personField("Number")
	fieldPersonTypeCode = personField("PersonTypeCode")

	fieldAccountNumber    = personField("AccountNumber")
	fieldMajorAccountType = personField("MajorAccountTypeCode")
	fieldMinorAccountType = personField("CurrentMinorAccountTypeCode")
	fieldBalanceAmount    = personField("BalanceAmount")
	fieldAvailableBalance = personField("AvailableBalance")
	fieldDateOpened       = personField("DateAccountOpened")
	fieldAccountStatus    = personField("CurrentAccountStatusCode")

	fieldActivityDateTime    = transactionField("ActivityDateTime")
	fieldTransactionAmount   = transactionField("TransactionAmount")
	fieldRtxnTypeCode        = transactionField("RtxnTypeCode")
	fieldExternalDescription = transactionField("ExternalRtxnDescription")
	fieldRtxnDescription     = transactionField("RtxnDescription")
	fieldRtxnSourceCode      = transactionField("RtxnSourceCd")

	fieldWasSuccessful = upstream.In("WasSuccessful", nsCore, nsMessages, "")
)
