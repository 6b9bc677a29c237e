package crypto

import (
	"crypto"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// ErrDigestUnavailable is returned when a digest cannot be resolved under
// a provider's property query.
var ErrDigestUnavailable = errors.New("digest not available")

// ErrInvalidPropertyQuery is returned for a malformed property query.
var ErrInvalidPropertyQuery = errors.New("invalid property query")

// Digest is a resolved message digest implementation.
type Digest struct {
	Hash crypto.Hash
	Name string
	FIPS bool

	newFn func() hash.Hash
}

// New returns a fresh hash state.
func (d *Digest) New() hash.Hash {
	return d.newFn()
}

// Size returns the output length in bytes.
func (d *Digest) Size() int {
	return d.newFn().Size()
}

// Sum computes the digest of data.
func (d *Digest) Sum(data []byte) []byte {
	h := d.newFn()
	_, _ = h.Write(data)
	return h.Sum(nil)
}

// digestEntry is one registered digest implementation.
type digestEntry struct {
	hash     crypto.Hash
	names    []string
	fips     bool
	provider string
	newFn    func() hash.Hash
}

// registry lists every digest known to the default provider.
var registry = []digestEntry{
	{crypto.MD5, []string{"md5"}, false, "default", md5.New},
	{crypto.SHA1, []string{"sha1", "sha-1"}, true, "default", sha1.New},
	{crypto.SHA224, []string{"sha224", "sha-224", "sha2-224"}, true, "default", sha256.New224},
	{crypto.SHA256, []string{"sha256", "sha-256", "sha2-256"}, true, "default", sha256.New},
	{crypto.SHA384, []string{"sha384", "sha-384", "sha2-384"}, true, "default", sha512.New384},
	{crypto.SHA512, []string{"sha512", "sha-512", "sha2-512"}, true, "default", sha512.New},
	{crypto.SHA512_224, []string{"sha512-224", "sha2-512/224"}, true, "default", sha512.New512_224},
	{crypto.SHA512_256, []string{"sha512-256", "sha2-512/256"}, true, "default", sha512.New512_256},
	{crypto.SHA3_224, []string{"sha3-224"}, true, "default", sha3.New224},
	{crypto.SHA3_256, []string{"sha3-256"}, true, "default", sha3.New256},
	{crypto.SHA3_384, []string{"sha3-384"}, true, "default", sha3.New384},
	{crypto.SHA3_512, []string{"sha3-512"}, true, "default", sha3.New512},
	{crypto.BLAKE2b_256, []string{"blake2b-256"}, false, "default", mustBlake2b(blake2b.New256)},
	{crypto.BLAKE2b_384, []string{"blake2b-384"}, false, "default", mustBlake2b(blake2b.New384)},
	{crypto.BLAKE2b_512, []string{"blake2b-512", "blake2b512"}, false, "default", mustBlake2b(blake2b.New512)},
}

// mustBlake2b adapts an unkeyed BLAKE2b constructor, which cannot fail
// with a nil key.
func mustBlake2b(fn func(key []byte) (hash.Hash, error)) func() hash.Hash {
	return func() hash.Hash {
		h, err := fn(nil)
		if err != nil {
			panic(err)
		}
		return h
	}
}

// Provider resolves digest algorithms.
//
// A property query restricts which implementations may be used. It is a
// comma separated list of "name=value" clauses; supported properties are
// "fips" (yes/no) and "provider" (the implementation name, "default").
// An empty query accepts everything.
type Provider struct {
	name  string
	props map[string]string
}

// DefaultProvider returns the provider backed by the Go standard library
// and golang.org/x/crypto.
func DefaultProvider() *Provider {
	return &Provider{name: "default"}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return p.name
}

// WithPropertyQuery returns a copy of p restricted by query.
func (p *Provider) WithPropertyQuery(query string) (*Provider, error) {
	props, err := ParsePropertyQuery(query)
	if err != nil {
		return nil, err
	}
	return &Provider{name: p.name, props: props}, nil
}

// PropertyQuery returns the normalized property query.
func (p *Provider) PropertyQuery() string {
	keys := make([]string, 0, len(p.props))
	for k := range p.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+p.props[k])
	}
	return strings.Join(parts, ",")
}

// ParsePropertyQuery parses a property query string.
func ParsePropertyQuery(query string) (map[string]string, error) {
	props := make(map[string]string)
	if strings.TrimSpace(query) == "" {
		return props, nil
	}
	for _, clause := range strings.Split(query, ",") {
		k, v, ok := strings.Cut(clause, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.ToLower(strings.TrimSpace(v))
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPropertyQuery, clause)
		}
		switch k {
		case "fips":
			if v != "yes" && v != "no" {
				return nil, fmt.Errorf("%w: fips must be yes or no", ErrInvalidPropertyQuery)
			}
		case "provider":
		default:
			return nil, fmt.Errorf("%w: unknown property %q", ErrInvalidPropertyQuery, k)
		}
		props[k] = v
	}
	return props, nil
}

func (p *Provider) accepts(e digestEntry) bool {
	if v, ok := p.props["fips"]; ok && (v == "yes") != e.fips {
		return false
	}
	if v, ok := p.props["provider"]; ok && v != e.provider {
		return false
	}
	return true
}

// FetchDigest resolves a digest by hash identifier.
func (p *Provider) FetchDigest(h crypto.Hash) (*Digest, error) {
	for _, e := range registry {
		if e.hash == h && p.accepts(e) {
			return newDigest(e), nil
		}
	}
	return nil, fmt.Errorf("%w: %s (properties %q)", ErrDigestUnavailable, h, p.PropertyQuery())
}

// FetchDigestByName resolves a digest by name, e.g. "sha256" or "SHA3-512".
func (p *Provider) FetchDigestByName(name string) (*Digest, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, e := range registry {
		for _, alias := range e.names {
			if alias == n && p.accepts(e) {
				return newDigest(e), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q (properties %q)", ErrDigestUnavailable, name, p.PropertyQuery())
}

// DigestNames returns the canonical names of the digests the provider accepts.
func (p *Provider) DigestNames() []string {
	var names []string
	for _, e := range registry {
		if p.accepts(e) {
			names = append(names, e.names[0])
		}
	}
	return names
}

// DigestName returns the canonical name of h, or its Go name if unregistered.
func DigestName(h crypto.Hash) string {
	for _, e := range registry {
		if e.hash == h {
			return e.names[0]
		}
	}
	return h.String()
}

func newDigest(e digestEntry) *Digest {
	return &Digest{Hash: e.hash, Name: e.names[0], FIPS: e.fips, newFn: e.newFn}
}
