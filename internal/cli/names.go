package cli

import (
	"fmt"

	"github.com/remiblancher/cmpctx/internal/cmp"
)

var revocationReasons = map[int]string{
	cmp.RevocationReasonNone:                 "none",
	cmp.RevocationReasonUnspecified:          "unspecified",
	cmp.RevocationReasonKeyCompromise:        "keyCompromise",
	cmp.RevocationReasonCACompromise:         "cACompromise",
	cmp.RevocationReasonAffiliationChanged:   "affiliationChanged",
	cmp.RevocationReasonSuperseded:           "superseded",
	cmp.RevocationReasonCessationOfOperation: "cessationOfOperation",
	cmp.RevocationReasonCertificateHold:      "certificateHold",
	cmp.RevocationReasonRemoveFromCRL:        "removeFromCRL",
	cmp.RevocationReasonPrivilegeWithdrawn:   "privilegeWithdrawn",
	cmp.RevocationReasonAACompromise:         "aACompromise",
}

var popoMethods = map[int]string{
	cmp.PopoNone:       "none",
	cmp.PopoRAVerified: "raVerified",
	cmp.PopoSignature:  "signature",
	cmp.PopoKeyEnc:     "keyEncipherment",
	cmp.PopoKeyAgree:   "keyAgreement",
}

// RevocationReasonName returns the CRL reason name of code (RFC 5280).
func RevocationReasonName(code int) string {
	if r, ok := revocationReasons[code]; ok {
		return r
	}
	return fmt.Sprintf("unknown (%d)", code)
}

// PopoMethodName returns the proof-of-possession method name of v.
func PopoMethodName(v int) string {
	if m, ok := popoMethods[v]; ok {
		return m
	}
	return fmt.Sprintf("unknown (%d)", v)
}

// OptionValueName returns a symbolic name for enumerated option values,
// or "" when the option has none.
func OptionValueName(opt cmp.Option, v int) string {
	switch opt {
	case cmp.OptRevocationReason:
		return RevocationReasonName(v)
	case cmp.OptPopoMethod:
		return PopoMethodName(v)
	case cmp.OptLogVerbosity:
		return cmp.Severity(v).String()
	}
	return ""
}
