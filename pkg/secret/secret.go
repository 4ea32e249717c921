// Package secret implements the two-tier access secret protocol.
//
// Every share has two independently generated secrets: a write secret that
// grants read+write participation and a read secret that grants read-only
// participation. Both embed the share's public identity; neither is
// derivable from the other. Read secrets may additionally embed the swarm
// locator of the share's published manifest so that joiners reach the exact
// swarm the publisher created.
//
// Text format (human-shareable, copy-pasteable):
//
//	<prefix><identity><optional locator hex><suffix>
//
// where prefix is "SSW" (write) or "SSR" (read), identity is 32 base32
// characters, the locator is 40 hex characters (read secrets only, detected
// structurally), and the suffix is the random secret material.
package secret

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"

	"github.com/marmos91/swarmsync/pkg/engine"
)

// AccessLevel is the capability a secret grants on its share.
type AccessLevel int

const (
	// AccessReadOnly receives updates but never publishes local changes.
	AccessReadOnly AccessLevel = iota

	// AccessReadWrite both receives updates and publishes local changes.
	AccessReadWrite
)

func (l AccessLevel) String() string {
	switch l {
	case AccessReadOnly:
		return "read-only"
	case AccessReadWrite:
		return "read-write"
	default:
		return "unknown"
	}
}

// Identity is a share's opaque, globally unique public identifier: 32
// base32 characters minted once at creation and immutable thereafter. It is
// never derived from either secret, so holding one share's secret reveals
// nothing about any other share.
type Identity string

// Secret is an access token in its textual form.
type Secret string

const (
	// WritePrefix and ReadPrefix are the fixed token prefixes, recognized
	// case-insensitively.
	WritePrefix = "SSW"
	ReadPrefix  = "SSR"

	// IdentityLen is the fixed length of the identity segment.
	IdentityLen = 32

	identityBytes = 20
	suffixBytes   = 16

	// fallbackSalt prefixes the identity when deriving a swarm locator for
	// shares whose real locator is unknown (write-secret joins, empty
	// shares, legacy read secrets).
	fallbackSalt = "swarmsync"
)

// ErrInvalid is returned for any token that does not parse. Malformed
// tokens are rejected deterministically; there are no partial parses.
var ErrInvalid = errors.New("invalid secret")

// encoding is unpadded uppercase base32; 20 identity bytes encode to
// exactly 32 characters.
var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Parsed is the result of decoding a secret token.
type Parsed struct {
	Identity Identity
	Level    AccessLevel

	// Locator is the embedded swarm locator, or the zero value when the
	// token carries none (write secrets, legacy read secrets).
	Locator engine.Locator
}

// HasLocator reports whether the token embedded a swarm locator.
func (p Parsed) HasLocator() bool {
	return !p.Locator.IsZero()
}

// Generate mints a fresh share: a write secret, an independent read secret
// and the share identity, all sourced separately from crypto/rand.
//
// An entropy failure is fatal for the caller's create operation and is
// returned as-is: a broken randomness source must never be retried into a
// weak secret.
func Generate() (write, read Secret, id Identity, err error) {
	idRaw, err := randomBytes(identityBytes)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate share identity: %w", err)
	}
	writeRaw, err := randomBytes(suffixBytes)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate write secret: %w", err)
	}
	readRaw, err := randomBytes(suffixBytes)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate read secret: %w", err)
	}

	id = Identity(encoding.EncodeToString(idRaw))
	write = Secret(WritePrefix + string(id) + encoding.EncodeToString(writeRaw))
	read = Secret(ReadPrefix + string(id) + encoding.EncodeToString(readRaw))
	return write, read, id, nil
}

// Parse decodes a secret token into its identity, access level and optional
// swarm locator. Unknown prefixes, short tokens, bad identity characters
// and empty suffixes all yield ErrInvalid.
func Parse(token Secret) (Parsed, error) {
	s := string(token)

	var level AccessLevel
	switch {
	case len(s) >= len(WritePrefix) && strings.EqualFold(s[:len(WritePrefix)], WritePrefix):
		level = AccessReadWrite
		s = s[len(WritePrefix):]
	case len(s) >= len(ReadPrefix) && strings.EqualFold(s[:len(ReadPrefix)], ReadPrefix):
		level = AccessReadOnly
		s = s[len(ReadPrefix):]
	default:
		return Parsed{}, fmt.Errorf("%w: unrecognized prefix", ErrInvalid)
	}

	if len(s) <= IdentityLen {
		return Parsed{}, fmt.Errorf("%w: token too short", ErrInvalid)
	}
	id := strings.ToUpper(s[:IdentityLen])
	if _, err := encoding.DecodeString(id); err != nil {
		return Parsed{}, fmt.Errorf("%w: malformed identity", ErrInvalid)
	}
	rest := s[IdentityLen:]

	p := Parsed{Identity: Identity(id), Level: level}

	// A read secret may embed a locator between identity and suffix. Its
	// presence is structural: exactly 40 hex characters followed by a
	// non-empty suffix. Legacy read secrets omit it.
	if level == AccessReadOnly && len(rest) > engine.LocatorSize*2 {
		if loc, err := engine.ParseLocator(rest[:engine.LocatorSize*2]); err == nil {
			p.Locator = loc
			rest = rest[engine.LocatorSize*2:]
		}
	}

	if rest == "" {
		return Parsed{}, fmt.Errorf("%w: missing secret material", ErrInvalid)
	}
	return p, nil
}

// AttachLocator rewrites a read secret to embed the given swarm locator,
// preserving the identity and the random suffix byte-for-byte. Attaching to
// a secret that already carries a locator replaces it. Write secrets are
// rejected: they never carry a locator.
func AttachLocator(token Secret, loc engine.Locator) (Secret, error) {
	p, err := Parse(token)
	if err != nil {
		return "", err
	}
	if p.Level != AccessReadOnly {
		return "", fmt.Errorf("%w: locator can only be attached to a read secret", ErrInvalid)
	}

	suffix := string(token)[len(ReadPrefix)+IdentityLen:]
	if p.HasLocator() {
		suffix = suffix[engine.LocatorSize*2:]
	}
	return Secret(ReadPrefix + string(p.Identity) + loc.String() + suffix), nil
}

// FallbackLocator derives a swarm locator from the identity alone: a
// one-way hash of "<salt>-<identity>" truncated to the engine's locator
// width. It is used when no explicit locator is available: joining via a
// write secret, a legacy read secret, or publishing an empty share.
func FallbackLocator(id Identity) engine.Locator {
	sum := sha1.Sum([]byte(fallbackSalt + "-" + string(id)))
	return engine.Locator(sum)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
