package cmp

import (
	"crypto"
	"fmt"
	"sort"
	"strings"
)

// Option identifies an integer or boolean context option. Boolean
// options take 0 (off) or any positive value (on).
type Option int

const (
	OptLogVerbosity Option = 0

	OptKeepAlive    Option = 10
	OptMsgTimeout   Option = 11
	OptTotalTimeout Option = 12
	OptUseTLS       Option = 13

	OptValidityDays            Option = 20
	OptSubjectAltNameNoDefault Option = 21
	OptSubjectAltNameCritical  Option = 22
	OptPoliciesCritical        Option = 23
	OptPopoMethod              Option = 24
	OptImplicitConfirm         Option = 25
	OptDisableConfirm          Option = 26
	OptRevocationReason        Option = 27

	OptUnprotectedSend           Option = 30
	OptUnprotectedErrors         Option = 31
	OptOWFAlgorithm              Option = 32
	OptMACAlgorithm              Option = 33
	OptDigestAlgorithm           Option = 34
	OptIgnoreKeyUsage            Option = 35
	OptPermitTAInExtraCertsForIR Option = 36
	OptNoCacheExtraCerts         Option = 37
)

// optionInfo describes the legal range of an option. Options without a
// maximum accept any value from min up.
type optionInfo struct {
	name   string
	min    int
	max    int
	hasMax bool
}

var optionTable = map[Option]optionInfo{
	OptLogVerbosity:              {name: "log_verbosity", max: int(SeverityMax), hasMax: true},
	OptKeepAlive:                 {name: "keep_alive"},
	OptMsgTimeout:                {name: "msg_timeout"},
	OptTotalTimeout:              {name: "total_timeout"},
	OptUseTLS:                    {name: "use_tls"},
	OptValidityDays:              {name: "validity_days"},
	OptSubjectAltNameNoDefault:   {name: "san_nodefault"},
	OptSubjectAltNameCritical:    {name: "san_critical"},
	OptPoliciesCritical:          {name: "policies_critical"},
	OptPopoMethod:                {name: "popo_method", min: PopoNone, max: PopoKeyAgree, hasMax: true},
	OptImplicitConfirm:           {name: "implicit_confirm"},
	OptDisableConfirm:            {name: "disable_confirm"},
	OptRevocationReason:          {name: "revocation_reason", min: RevocationReasonNone, max: RevocationReasonAACompromise, hasMax: true},
	OptUnprotectedSend:           {name: "unprotected_send"},
	OptUnprotectedErrors:         {name: "unprotected_errors"},
	OptOWFAlgorithm:              {name: "owf_algorithm"},
	OptMACAlgorithm:              {name: "mac_algorithm"},
	OptDigestAlgorithm:           {name: "digest_algorithm"},
	OptIgnoreKeyUsage:            {name: "ignore_keyusage"},
	OptPermitTAInExtraCertsForIR: {name: "permit_ta_in_extracerts_for_ir"},
	OptNoCacheExtraCerts:         {name: "no_cache_extracerts"},
}

func (o Option) String() string {
	if info, ok := optionTable[o]; ok {
		return info.name
	}
	return fmt.Sprintf("option(%d)", int(o))
}

// ParseOption returns the option with the given name, e.g. "popo_method".
func ParseOption(name string) (Option, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for opt, info := range optionTable {
		if info.name == n {
			return opt, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidOption, name)
}

// Options returns all options in ascending order.
func Options() []Option {
	out := make([]Option, 0, len(optionTable))
	for opt := range optionTable {
		out = append(out, opt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Range returns the legal bounds of the option. hasMax is false for
// options without an upper bound.
func (o Option) Range() (min, max int, hasMax bool, err error) {
	info, ok := optionTable[o]
	if !ok {
		return 0, 0, false, fmt.Errorf("%w: %d", ErrInvalidOption, int(o))
	}
	return info.min, info.max, info.hasMax, nil
}

// SetOption sets an option. Values outside the legal range fail with an
// error matching ErrValueOutOfRange and leave the option unchanged. The
// digest and PBM OWF options take a crypto.Hash value that must resolve
// through the provider.
func (c *Context) SetOption(opt Option, val int) error {
	const op = "SetOption"
	if c == nil {
		return nullArg(op)
	}

	info, ok := optionTable[opt]
	if !ok {
		return c.fail(op, ErrInvalidOption, fmt.Errorf("%d", int(opt)))
	}
	if val < info.min {
		return c.fail(op, ErrValueTooSmall, fmt.Errorf("%s=%d, minimum %d", info.name, val, info.min))
	}
	if info.hasMax && val > info.max {
		return c.fail(op, ErrValueTooLarge, fmt.Errorf("%s=%d, maximum %d", info.name, val, info.max))
	}

	switch opt {
	case OptLogVerbosity:
		c.verbosity = Severity(val)
	case OptImplicitConfirm:
		c.implicitConfirm = val
	case OptDisableConfirm:
		c.disableConfirm = val
	case OptUnprotectedSend:
		c.unprotectedSend = val
	case OptUnprotectedErrors:
		c.unprotectedErrors = val
	case OptNoCacheExtraCerts:
		c.noCacheExtraCerts = val
	case OptValidityDays:
		c.days = val
	case OptSubjectAltNameNoDefault:
		c.sanNoDefault = val
	case OptSubjectAltNameCritical:
		c.sanCritical = val
	case OptPoliciesCritical:
		c.policiesCritical = val
	case OptIgnoreKeyUsage:
		c.ignoreKeyUsage = val
	case OptPopoMethod:
		c.popoMethod = val
	case OptDigestAlgorithm:
		d, err := c.fetchDigest(crypto.Hash(val))
		if err != nil {
			return c.fail(op, err, nil)
		}
		c.digest = d
	case OptOWFAlgorithm:
		d, err := c.fetchDigest(crypto.Hash(val))
		if err != nil {
			return c.fail(op, err, nil)
		}
		c.pbmOWF = d
	case OptMACAlgorithm:
		c.pbmMAC = crypto.Hash(val)
	case OptKeepAlive:
		c.keepAlive = val
	case OptMsgTimeout:
		c.msgTimeout = val
	case OptTotalTimeout:
		c.totalTimeout = val
	case OptUseTLS:
		c.tlsUsed = val
	case OptPermitTAInExtraCertsForIR:
		c.permitTAInExtraCertsForIR = val
	case OptRevocationReason:
		c.revocationReason = val
	}
	return nil
}

// Option returns the value of an option.
func (c *Context) Option(opt Option) (int, error) {
	const op = "Option"
	if c == nil {
		return 0, nullArg(op)
	}

	switch opt {
	case OptLogVerbosity:
		return int(c.verbosity), nil
	case OptImplicitConfirm:
		return c.implicitConfirm, nil
	case OptDisableConfirm:
		return c.disableConfirm, nil
	case OptUnprotectedSend:
		return c.unprotectedSend, nil
	case OptUnprotectedErrors:
		return c.unprotectedErrors, nil
	case OptNoCacheExtraCerts:
		return c.noCacheExtraCerts, nil
	case OptValidityDays:
		return c.days, nil
	case OptSubjectAltNameNoDefault:
		return c.sanNoDefault, nil
	case OptSubjectAltNameCritical:
		return c.sanCritical, nil
	case OptPoliciesCritical:
		return c.policiesCritical, nil
	case OptIgnoreKeyUsage:
		return c.ignoreKeyUsage, nil
	case OptPopoMethod:
		return c.popoMethod, nil
	case OptDigestAlgorithm:
		return int(c.Digest()), nil
	case OptOWFAlgorithm:
		return int(c.PBMOWF()), nil
	case OptMACAlgorithm:
		return int(c.pbmMAC), nil
	case OptKeepAlive:
		return c.keepAlive, nil
	case OptMsgTimeout:
		return c.msgTimeout, nil
	case OptTotalTimeout:
		return c.totalTimeout, nil
	case OptUseTLS:
		return c.tlsUsed, nil
	case OptPermitTAInExtraCertsForIR:
		return c.permitTAInExtraCertsForIR, nil
	case OptRevocationReason:
		return c.revocationReason, nil
	default:
		return 0, c.fail(op, ErrInvalidOption, fmt.Errorf("%d", int(opt)))
	}
}

// OptionValues returns every option value keyed by option name.
func (c *Context) OptionValues() map[string]int {
	out := make(map[string]int, len(optionTable))
	for _, opt := range Options() {
		if v, err := c.Option(opt); err == nil {
			out[opt.String()] = v
		}
	}
	return out
}

// Digest returns the digest used for signature-based protection.
func (c *Context) Digest() crypto.Hash {
	if c == nil || c.digest == nil {
		return 0
	}
	return c.digest.Hash
}

// Verbosity returns the configured log verbosity.
func (c *Context) Verbosity() Severity {
	if c == nil {
		return 0
	}
	return c.verbosity
}
