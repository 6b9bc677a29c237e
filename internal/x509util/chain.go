package x509util

import (
	"bytes"
	"fmt"
)

// maxChainDepth bounds the issuer walk.
const maxChainDepth = 32

// BuildChain builds the certificate chain for target from the candidate
// certificates and, if given, the anchors of store.
//
// The returned chain starts with target and holds one new reference per
// element. A self-signed root terminating the chain is not included.
// With a store, the walk must end at one of its anchors; without one the
// chain is built as far as the candidates allow. Validity periods are not
// checked.
func BuildChain(store *TrustStore, candidates []*Cert, target *Cert) ([]*Cert, error) {
	if err := target.Check(); err != nil {
		return nil, fmt.Errorf("%w: target: %v", ErrNoChain, err)
	}

	pool := append([]*Cert{}, candidates...)
	pool = append(pool, store.Anchors()...)

	chain := []*Cert{target}
	cur := target
	anchored := store.Contains(target)
	for depth := 0; !anchored && depth < maxChainDepth; depth++ {
		if cur.IsSelfSigned() {
			break
		}
		issuer := findIssuer(pool, chain, cur)
		if issuer == nil {
			break
		}
		if store.Contains(issuer) {
			anchored = true
			if !issuer.IsSelfSigned() {
				chain = append(chain, issuer)
			}
			break
		}
		chain = append(chain, issuer)
		cur = issuer
	}

	if store != nil && !anchored {
		return nil, fmt.Errorf("%w: no path from %q to a trust anchor", ErrNoChain, target.String())
	}

	// Drop a trailing self-signed root reached through the candidates.
	if n := len(chain); n > 1 && chain[n-1].IsSelfSigned() {
		chain = chain[:n-1]
	}

	return UpRefAll(chain)
}

// findIssuer returns the first candidate that issued cur and is not
// already part of the chain.
func findIssuer(pool, chain []*Cert, cur *Cert) *Cert {
	c := cur.Certificate()
	for _, cand := range pool {
		pc := cand.Certificate()
		if pc == nil || Contains(chain, cand) {
			continue
		}
		if !bytes.Equal(pc.RawSubject, c.RawIssuer) {
			continue
		}
		if c.CheckSignatureFrom(pc) == nil {
			return cand
		}
	}
	return nil
}
