package discovery

import "errors"

var (
	ErrClosed           = errors.New("discovery: closed")
	ErrNotPublished     = errors.New("discovery: not published")
	ErrNotFound         = errors.New("discovery: service not found")
	ErrTimeout          = errors.New("discovery: timed out")
	ErrNoIdentifier     = errors.New("discovery: empty identifier")
	ErrInvalidPublicKey = errors.New("discovery: public key must be 32 bytes")
	ErrMalformedTXT     = errors.New("discovery: malformed TXT record")
)
