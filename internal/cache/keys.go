package cache

import (
	"fmt"
	"strconv"
	"strings"
)

// FareKey identifies a computed fare. PeakBucket separates peak and off-peak
// prices for the same stage range.
type FareKey struct {
	RouteID    string
	StartStage int
	EndStage   int
	PeakBucket string
}

// String converts the structured key into the final string used in Redis/map.
func (k FareKey) String() string {
	// fare:<ROUTE_ID>:<START>:<END>:<BUCKET>
	return fmt.Sprintf("fare:%s:%d:%d:%s", k.RouteID, k.StartStage, k.EndStage, k.PeakBucket)
}

// RouteKey is the key of a cached route catalog entry.
func RouteKey(routeID string) string {
	return "route:" + strings.TrimSpace(routeID)
}

// LocationKey is the key of a trip's last reported vehicle position.
func LocationKey(tripID string) string {
	return "location:" + strings.TrimSpace(tripID)
}

// parseFareKey reverses FareKey.String.
func parseFareKey(key string) (FareKey, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != "fare" {
		return FareKey{}, false
	}
	start, err := strconv.Atoi(parts[2])
	if err != nil {
		return FareKey{}, false
	}
	end, err := strconv.Atoi(parts[3])
	if err != nil {
		return FareKey{}, false
	}
	return FareKey{
		RouteID:    parts[1],
		StartStage: start,
		EndStage:   end,
		PeakBucket: parts[4],
	}, true
}
