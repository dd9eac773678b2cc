// Package fare prices a trip from a route's staged fare table.
//
// Everything here is a pure function of its arguments, including the time,
// so results can be cached under (route, start, end, PeakBucket) and are
// safe to compute concurrently.
package fare

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidRoute reports a fare table that cannot be priced. It points at
// the route catalog, not at the caller.
var ErrInvalidRoute = errors.New("invalid fare route")

// StageIncrement prices trips that board at or after FromStage and alight at
// or before ToStage.
type StageIncrement struct {
	FromStage int     `json:"from_stage" mapstructure:"from_stage" validate:"gte=0"`
	ToStage   int     `json:"to_stage" mapstructure:"to_stage" validate:"gtefield=FromStage"`
	Fare      float64 `json:"fare" mapstructure:"fare" validate:"finite,gte=0"`
}

// Route is a route's fare table. Increment order matters: the first match
// wins.
type Route struct {
	ID              string           `json:"id" mapstructure:"id"`
	Name            string           `json:"name,omitempty" mapstructure:"name"`
	BaseFare        float64          `json:"base_fare" mapstructure:"base_fare" validate:"finite,gt=0"`
	StageIncrements []StageIncrement `json:"stage_increments" mapstructure:"stage_increments" validate:"dive"`
	PeakMultiplier  float64          `json:"peak_multiplier" mapstructure:"peak_multiplier" validate:"finite,gt=0"`
}

var validate = validator.New()

func init() {
	_ = validate.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
}

// Validate reports whether r can be priced. The error wraps ErrInvalidRoute.
func Validate(r Route) error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRoute, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	if r.ID != "" {
		return fmt.Errorf("%w %q: %s", ErrInvalidRoute, r.ID, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %s", ErrInvalidRoute, strings.Join(msgs, "; "))
}

// Peak hours, inclusive on both ends, in the local hour of the given time.
var peakHours = [][2]int{{7, 9}, {17, 19}}

// IsPeak reports whether t falls in a peak hour of its own location.
func IsPeak(t time.Time) bool {
	h := t.Hour()
	for _, p := range peakHours {
		if h >= p[0] && h <= p[1] {
			return true
		}
	}
	return false
}

const (
	BucketPeak    = "peak"
	BucketOffPeak = "offpeak"
)

// PeakBucket is the cache-key component that separates peak prices.
func PeakBucket(t time.Time) string {
	if IsPeak(t) {
		return BucketPeak
	}
	return BucketOffPeak
}

type Source string

const (
	SourceStage Source = "stage"
	SourceBase  Source = "base"
)

// Quote is a priced trip with the inputs that produced the amount.
type Quote struct {
	RouteID    string  `json:"route_id"`
	StartStage int     `json:"start_stage"`
	EndStage   int     `json:"end_stage"`
	Amount     int64   `json:"amount"`
	Peak       bool    `json:"peak"`
	Multiplier float64 `json:"multiplier"`
	Source     Source  `json:"source"`
	// Increment is the index of the matched stage increment, -1 for base fare.
	Increment int `json:"increment"`
}

// Price computes the fare for boarding at start and alighting at end at
// time at.
//
// The first increment covering [start, end] sets the fare, otherwise the
// base fare applies. In peak hours (07-09 and 17-19 inclusive) the fare is
// multiplied by PeakMultiplier. The result is rounded half away from zero
// to whole currency units.
func Price(r Route, start, end int, at time.Time) (Quote, error) {
	if err := Validate(r); err != nil {
		return Quote{}, err
	}

	q := Quote{
		RouteID:    r.ID,
		StartStage: start,
		EndStage:   end,
		Multiplier: 1,
		Source:     SourceBase,
		Increment:  -1,
	}

	amount := r.BaseFare
	for i, inc := range r.StageIncrements {
		if start >= inc.FromStage && end <= inc.ToStage {
			amount = inc.Fare
			q.Source = SourceStage
			q.Increment = i
			break
		}
	}

	if IsPeak(at) {
		q.Peak = true
		q.Multiplier = r.PeakMultiplier
		amount *= r.PeakMultiplier
	}

	q.Amount = int64(math.Round(amount))
	return q, nil
}

// ComputeFare returns only the amount of Price.
func ComputeFare(r Route, start, end int, at time.Time) (int64, error) {
	q, err := Price(r, start, end, at)
	if err != nil {
		return 0, err
	}
	return q.Amount, nil
}
