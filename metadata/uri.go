package metadata

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	ipfsScheme    = "ipfs://"
	idPlaceholder = "{id}"

	// cidV0Length is the length of a base58 encoded sha2-256 multihash.
	cidV0Length = 46
)

// ErrInvalidURI is returned when a metadata URI cannot be resolved to an HTTP location.
var ErrInvalidURI = errors.New("invalid metadata uri")

// ResolveURI rewrites a raw token URI into a fetchable URL.
//
// The {id} placeholder is replaced with the decimal token ID and the ipfs:// scheme is
// rewritten onto gateway. CIDv0 roots are checked to be valid base58 multihashes.
func ResolveURI(raw string, tokenID uint64, gateway string) (string, error) {
	uri := strings.TrimSpace(raw)
	if uri == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURI)
	}

	uri = strings.ReplaceAll(uri, idPlaceholder, strconv.FormatUint(tokenID, 10))

	if !strings.HasPrefix(uri, ipfsScheme) {
		if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
			return uri, nil
		}
		return "", fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidURI, raw)
	}

	path := strings.TrimPrefix(uri, ipfsScheme)
	path = strings.TrimPrefix(path, "ipfs/")
	if err := checkCID(strings.SplitN(path, "/", 2)[0]); err != nil {
		return "", err
	}

	if gateway == "" {
		return "", fmt.Errorf("%w: ipfs gateway not configured", ErrInvalidURI)
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	return gateway + path, nil
}

func checkCID(root string) error {
	if root == "" {
		return fmt.Errorf("%w: missing cid", ErrInvalidURI)
	}
	// CIDv1 roots are multibase encoded and not checked here.
	if !strings.HasPrefix(root, "Qm") {
		return nil
	}
	if len(root) != cidV0Length {
		return fmt.Errorf("%w: cid %q has length %d", ErrInvalidURI, root, len(root))
	}

	decoded, err := base58.Decode(root)
	if err != nil {
		return fmt.Errorf("%w: cid %q: %v", ErrInvalidURI, root, err)
	}
	// sha2-256 multihash: code 0x12, digest length 0x20.
	if len(decoded) != 34 || decoded[0] != 0x12 || decoded[1] != 0x20 {
		return fmt.Errorf("%w: cid %q is not a sha2-256 multihash", ErrInvalidURI, root)
	}
	return nil
}
