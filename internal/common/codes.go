package common

import "errors"

// Domains recorded alongside an error code on failed uploads.
const (
	DomainCloud = "gophvault.cloud"
	DomainLocal = "gophvault.local"
)

var codeTable = []struct {
	code   int
	domain string
	err    error
}{
	{1, DomainCloud, ErrItemNotFound},
	{2, DomainCloud, ErrItemAlreadyExists},
	{3, DomainCloud, ErrItemTypeMismatch},
	{4, DomainCloud, ErrParentFolderMissing},
	{5, DomainCloud, ErrUnauthorized},
	{6, DomainCloud, ErrNoConnectivity},
	{7, DomainCloud, ErrQuotaExceeded},
	{8, DomainCloud, ErrRateLimited},
	{21, DomainLocal, ErrInvalidName},
}

const unknownCode = 0

// ErrorCode maps err to the persisted (code, domain) pair. Unknown errors
// map to code 0 in the local domain.
func ErrorCode(err error) (int, string) {
	for _, e := range codeTable {
		if errors.Is(err, e.err) {
			return e.code, e.domain
		}
	}
	return unknownCode, DomainLocal
}

// ErrorFromCode is the inverse of ErrorCode. Unknown pairs map to ErrorInternal.
func ErrorFromCode(code int, domain string) error {
	for _, e := range codeTable {
		if e.code == code && e.domain == domain {
			return e.err
		}
	}
	return ErrorInternal
}
