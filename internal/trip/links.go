package trip

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
)

const (
	tripIDLength   = 6
	tripIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

var ErrInvalidTripID = errors.New("invalid trip id")

// NewTripID returns a random 6-character lowercase alphanumeric id.
func NewTripID() (string, error) {
	var sb strings.Builder
	limit := big.NewInt(int64(len(tripIDAlphabet)))
	for i := 0; i < tripIDLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		sb.WriteByte(tripIDAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// ValidateTripID accepts short alphanumeric ids, which are always safe as a
// single document path segment.
func ValidateTripID(id string) error {
	if len(id) == 0 || len(id) > 32 {
		return fmt.Errorf("%w: %q", ErrInvalidTripID, id)
	}
	for _, r := range id {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return fmt.Errorf("%w: %q", ErrInvalidTripID, id)
		}
	}
	return nil
}

// ShareLink returns {origin}/?tripId={id}.
func ShareLink(origin, tripID string) string {
	return strings.TrimRight(origin, "/") + "/?" + url.Values{"tripId": {tripID}}.Encode()
}

// TripIDFromLink extracts the tripId query parameter from a share link. A
// bare trip id is accepted as is.
func TripIDFromLink(link string) (string, error) {
	link = strings.TrimSpace(link)
	if ValidateTripID(link) == nil {
		return link, nil
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTripID, err)
	}
	id := u.Query().Get("tripId")
	if err := ValidateTripID(id); err != nil {
		return "", err
	}
	return id, nil
}

// ResolveStartup picks the trip to open on launch: a deep-link id wins over
// the cached active trip.
func ResolveStartup(deepLinkID, cachedID string) string {
	if deepLinkID != "" {
		return deepLinkID
	}
	return cachedID
}
