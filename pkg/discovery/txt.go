package discovery

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/backkem/pairing/pkg/store"
)

// DNS-SD names.
const (
	// ServicePairing is the DNS-SD service type of a pairing daemon.
	ServicePairing = "_pairing._tcp"

	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
)

// TXT record keys.
const (
	TXTKeyIdentifier = "id" // device pairing identifier
	TXTKeyPublicKey  = "pk" // hex Ed25519 public key
	TXTKeyStatus     = "sf" // 1 while no controller is paired
	TXTKeyFeatures   = "ff" // feature flags
)

// PairingTXT holds the TXT record of an advertised pairing service.
type PairingTXT struct {
	// Identifier is the device's pairing identifier. Required.
	Identifier string

	// PublicKey is the device's long-term Ed25519 public key. Optional; when
	// set it must be 32 bytes.
	PublicKey []byte

	// Unpaired is set while no controller is paired with the device.
	Unpaired bool

	// Features carries feature flags, encoded in decimal.
	Features uint32
}

// Validate checks the record fields.
func (p *PairingTXT) Validate() error {
	if p.Identifier == "" {
		return ErrNoIdentifier
	}
	if p.PublicKey != nil && len(p.PublicKey) != store.PublicKeySize {
		return ErrInvalidPublicKey
	}
	return nil
}

// Encode encodes the record as "key=value" strings.
func (p *PairingTXT) Encode() []string {
	records := []string{TXTKeyIdentifier + "=" + p.Identifier}
	if len(p.PublicKey) > 0 {
		records = append(records, TXTKeyPublicKey+"="+hex.EncodeToString(p.PublicKey))
	}
	status := "0"
	if p.Unpaired {
		status = "1"
	}
	records = append(records,
		TXTKeyStatus+"="+status,
		TXTKeyFeatures+"="+strconv.FormatUint(uint64(p.Features), 10),
	)
	return records
}

// ParseTXT parses raw TXT record strings into a map.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			result[record[:idx]] = record[idx+1:]
		}
	}
	return result
}

// ParsePairingTXT parses raw TXT records into a PairingTXT.
func ParsePairingTXT(records []string) (*PairingTXT, error) {
	m := ParseTXT(records)
	p := &PairingTXT{Identifier: m[TXTKeyIdentifier]}

	if v, ok := m[TXTKeyPublicKey]; ok {
		pk, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("%w: pk: %v", ErrMalformedTXT, err)
		}
		p.PublicKey = pk
	}
	if v, ok := m[TXTKeyStatus]; ok {
		switch v {
		case "0":
		case "1":
			p.Unpaired = true
		default:
			return nil, fmt.Errorf("%w: sf=%q", ErrMalformedTXT, v)
		}
	}
	if v, ok := m[TXTKeyFeatures]; ok {
		ff, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: ff: %v", ErrMalformedTXT, err)
		}
		p.Features = uint32(ff)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
