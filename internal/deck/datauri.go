package deck

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrNotDataURI is returned by DecodeDataURI for references that are not
// base64 data URIs (for example an offloaded https:// or s3:// reference).
var ErrNotDataURI = errors.New("not a base64 data URI")

// EncodeDataURI packs image bytes into a self-contained data reference.
func EncodeDataURI(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI unpacks a reference produced by EncodeDataURI.
func DecodeDataURI(uri string) (mimeType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, ErrNotDataURI
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URI: missing payload")
	}
	mimeType, ok = strings.CutSuffix(header, ";base64")
	if !ok {
		return "", nil, ErrNotDataURI
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URI: %w", err)
	}
	return mimeType, data, nil
}

// IsDataURI reports whether ref is an inline data reference.
func IsDataURI(ref string) bool {
	return strings.HasPrefix(ref, "data:")
}
