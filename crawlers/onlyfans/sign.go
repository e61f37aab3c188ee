package onlyfans

import (
	"crypto/sha1" // nolint: gosec, the platform mandates this digest
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// signRules describe how the request signature header is assembled. The
// platform rotates these occasionally; the compiled-in defaults can be
// overridden through credential payload keys.
type signRules struct {
	StaticParam      string
	Prefix           string
	Suffix           string
	ChecksumIndexes  []int
	ChecksumConstant int
}

func defaultSignRules() signRules {
	return signRules{
		StaticParam: "bQMUjkGCyvyqGtJxd0E0ODttMCtW1VmT",
		Prefix:      "29580",
		Suffix:      "66f1fce2",
		ChecksumIndexes: []int{
			0, 2, 3, 5, 7, 9, 10, 12, 14, 16,
			17, 19, 21, 23, 25, 26, 28, 30, 32, 34,
			35, 37, 39,
		},
		ChecksumConstant: -122,
	}
}

// merge applies payload overrides onto the rules. checksum_indexes is a
// comma-separated integer list.
func (r signRules) merge(payload map[string]string) signRules {
	if v := payload["static_param"]; v != "" {
		r.StaticParam = v
	}
	if v := payload["sign_prefix"]; v != "" {
		r.Prefix = v
	}
	if v := payload["sign_suffix"]; v != "" {
		r.Suffix = v
	}
	if v := payload["checksum_constant"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			r.ChecksumConstant = n
		}
	}
	if v := payload["checksum_indexes"]; v != "" {
		var indexes []int
		for _, field := range strings.Split(v, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil || n < 0 || n >= sha1.Size*2 {
				indexes = nil
				break
			}
			indexes = append(indexes, n)
		}
		if len(indexes) > 0 {
			r.ChecksumIndexes = indexes
		}
	}
	return r
}

// sign produces the signature header for one request: a keyed digest over the
// static salt, the unix timestamp, the path with query, and the account id,
// wrapped in the prefix/checksum/suffix frame the platform expects.
func (r signRules) sign(pathWithQuery string, unixTime int64, accountID string) string {
	raw := strings.Join([]string{
		r.StaticParam,
		strconv.FormatInt(unixTime, 10),
		pathWithQuery,
		accountID,
	}, "\n")

	digest := sha1.Sum([]byte(raw)) // nolint: gosec
	hexDigest := hex.EncodeToString(digest[:])

	checksum := r.ChecksumConstant
	for _, index := range r.ChecksumIndexes {
		checksum += int(hexDigest[index])
	}
	if checksum < 0 {
		checksum = -checksum
	}

	return fmt.Sprintf("%s:%s:%x:%s", r.Prefix, hexDigest, checksum, r.Suffix)
}
