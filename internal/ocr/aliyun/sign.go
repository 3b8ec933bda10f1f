package aliyun

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const algorithm = "ACS3-HMAC-SHA256"

// signer produces ACS3-HMAC-SHA256 (V3) Authorization headers
type signer struct {
	accessKeyID     string
	accessKeySecret string
}

// authorization signs a request to "/" without query parameters. Every header
// already present in h whose name is host, content-type or starts with x-acs- is signed.
func (s signer) authorization(method string, h http.Header, host string) string {
	headers := map[string]string{"host": host}
	for name, values := range h {
		lower := strings.ToLower(name)
		if lower == "content-type" || strings.HasPrefix(lower, "x-acs-") {
			headers[lower] = strings.TrimSpace(strings.Join(values, ","))
		}
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var canonicalHeaders strings.Builder
	for _, name := range names {
		fmt.Fprintf(&canonicalHeaders, "%s:%s\n", name, headers[name])
	}
	signedHeaders := strings.Join(names, ";")

	canonicalRequest := strings.Join([]string{
		method,
		"/",
		"",
		canonicalHeaders.String(),
		signedHeaders,
		headers["x-acs-content-sha256"],
	}, "\n")

	stringToSign := algorithm + "\n" + sha256Hex([]byte(canonicalRequest))

	mac := hmac.New(sha256.New, []byte(s.accessKeySecret))
	mac.Write([]byte(stringToSign))
	signature := hex.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("%s Credential=%s,SignedHeaders=%s,Signature=%s", algorithm, s.accessKeyID, signedHeaders, signature)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
