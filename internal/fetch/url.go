package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"adwatch/internal/model"
)

// SearchURL builds the marketplace search URL for the saved search.
// Location and category become path segments; query, price bounds and sort
// order become query parameters.
func SearchURL(base string, p model.SearchParams) (string, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(base), "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	var pathParts []string
	if p.Location != "" {
		pathParts = append(pathParts, slugify(p.Location))
	}
	if p.Category != "" {
		pathParts = append(pathParts, slugify(p.Category))
	}
	if len(pathParts) == 0 {
		pathParts = []string{"all"}
	}
	u.Path = "/" + strings.Join(pathParts, "/")

	q := url.Values{}
	if p.Query != "" {
		q.Set("q", p.Query)
	}
	if p.PriceMin > 0 {
		q.Set("pmin", strconv.Itoa(p.PriceMin))
	}
	if p.PriceMax > 0 {
		q.Set("pmax", strconv.Itoa(p.PriceMax))
	}
	if p.Sort != "" {
		q.Set("s", p.Sort)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func slugify(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
}

var trailingDigitsRe = regexp.MustCompile(`_(\d+)$`)

// ExtractItemID pulls the marketplace's native listing id out of a listing
// link. Known link shapes: "/items/<id>", an "/i/<id>" path segment, and a
// trailing "_<digits>" suffix on the last path segment. Returns "" when the
// link carries no recognizable id.
func ExtractItemID(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segs {
		if (seg == "items" || seg == "i") && i+1 < len(segs) && segs[i+1] != "" {
			return segs[i+1]
		}
	}
	if len(segs) > 0 {
		if m := trailingDigitsRe.FindStringSubmatch(segs[len(segs)-1]); m != nil {
			return m[1]
		}
	}
	return ""
}

// URLHashID derives a stable fallback id from the listing link: the link is
// canonicalized (scheme and host lowercased, query string and fragment
// stripped, empty path normalized to "/") so that volatile tracking
// parameters cannot split one listing into many, then hashed. Returns "" for
// unparseable or non-http links.
func URLHashID(link string) string {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	sum := sha256.Sum256([]byte(u.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// ListingID resolves the identifier for a candidate: native id when the link
// has one, canonical-URL hash otherwise.
func ListingID(link string) string {
	if id := ExtractItemID(link); id != "" {
		return id
	}
	return URLHashID(link)
}
