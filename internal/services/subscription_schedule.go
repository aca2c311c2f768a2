package services

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"topup-backend/internal/models"
	"topup-backend/internal/utils"

	mapset "github.com/deckarep/golang-set"
)

const (
	// MinFrequency shortest schedule the ledger accepts, seconds
	MinFrequency uint64 = 1800
	// MaxFrequency longest schedule the ledger accepts, seconds
	MaxFrequency uint64 = 110678400
)

var ErrInvalidFrequency = errors.New("invalid subscription frequency")

// InvalidFrequencyError subscription with a frequency that cannot be scheduled
type InvalidFrequencyError struct {
	SubscriptionID string
	Frequency      uint64
}

func (e *InvalidFrequencyError) Error() string {
	return fmt.Sprintf("subscription %s: invalid frequency %d", e.SubscriptionID, e.Frequency)
}

func (e *InvalidFrequencyError) Is(target error) bool {
	return target == ErrInvalidFrequency
}

// ScheduleProgress derived schedule state of a subscription at a given instant
type ScheduleProgress struct {
	NextExecutionTime time.Time     `json:"next_execution_time"`
	ProgressFraction  float64       `json:"progress_fraction"` // in [0, 1]
	Remaining         time.Duration `json:"remaining"`         // zero once due
}

// ProgressOf next = lastUpdate + frequency, progress = clamp(elapsed/frequency, 0, 1)
func ProgressOf(sub models.Subscription, now time.Time) (ScheduleProgress, error) {
	frequency, ok := sub.FrequencyDuration()
	if !ok {
		return ScheduleProgress{}, &InvalidFrequencyError{SubscriptionID: sub.ID, Frequency: sub.Frequency}
	}
	next := sub.Status.LastUpdate.Add(frequency)

	elapsed := now.Sub(sub.Status.LastUpdate)
	fraction := elapsed.Seconds() / frequency.Seconds()
	switch {
	case fraction < 0:
		fraction = 0
	case fraction > 1:
		fraction = 1
	}

	remaining := next.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > frequency {
		// lastUpdate in the future
		remaining = frequency
	}

	return ScheduleProgress{
		NextExecutionTime: next,
		ProgressFraction:  fraction,
		Remaining:         remaining,
	}, nil
}

// KindFilter method kind criterion
type KindFilter string

const (
	KindAny    KindFilter = ""
	KindPrice  KindFilter = "price"
	KindRandom KindFilter = "random"
)

// FilterCriteria conjunction of subscription filters
type FilterCriteria struct {
	Viewer       string
	ShowMine     bool
	ShowInactive bool
	Kind         KindFilter
	ChainIDs     []int64 // empty = every chain
	Search       string  // case-insensitive substring of the pair id
}

// FilterSubscriptions returns the subscriptions matching every criterion,
// preserving input order. Pure: identical inputs yield identical output.
func FilterSubscriptions(subs []models.Subscription, criteria FilterCriteria) []models.Subscription {
	viewer := utils.AddressKey(criteria.Viewer)
	search := strings.ToLower(strings.TrimSpace(criteria.Search))

	var chains mapset.Set
	if len(criteria.ChainIDs) > 0 {
		chains = mapset.NewSet()
		for _, id := range criteria.ChainIDs {
			chains.Add(id)
		}
	}

	out := make([]models.Subscription, 0, len(subs))
	for _, sub := range subs {
		if criteria.ShowMine && (viewer == "" || utils.AddressKey(sub.Owner) != viewer) {
			continue
		}
		if !criteria.ShowInactive && !sub.Status.IsActive {
			continue
		}
		switch criteria.Kind {
		case KindPrice:
			if _, ok := sub.Method.Kind.Pair(); !ok {
				continue
			}
		case KindRandom:
			if !sub.Method.Kind.IsRandom() {
				continue
			}
		}
		if chains != nil && !chains.Contains(sub.ChainID) {
			continue
		}
		if search != "" {
			pair, ok := sub.Method.Kind.Pair()
			if !ok || !strings.Contains(strings.ToLower(pair), search) {
				continue
			}
		}
		out = append(out, sub)
	}
	return out
}

// SubscriptionView subscription plus its derived schedule
type SubscriptionView struct {
	models.Subscription
	Progress      ScheduleProgress `json:"progress"`
	ScheduleValid bool             `json:"schedule_valid"`
	OutOfRange    bool             `json:"out_of_range"` // frequency outside [MinFrequency, MaxFrequency]
	IsOwner       bool             `json:"is_owner"`
}

// BuildSubscriptionViews pairs each subscription with its progress. An
// invalid frequency yields zero progress and ScheduleValid=false.
func BuildSubscriptionViews(subs []models.Subscription, viewer string, now time.Time) []SubscriptionView {
	views := make([]SubscriptionView, 0, len(subs))
	for _, sub := range subs {
		view := SubscriptionView{
			Subscription:  sub,
			ScheduleValid: true,
			OutOfRange:    sub.Frequency < MinFrequency || sub.Frequency > MaxFrequency,
			IsOwner:       utils.SameAddress(sub.Owner, viewer),
		}
		progress, err := ProgressOf(sub, now)
		if err != nil {
			view.ScheduleValid = false
		} else {
			view.Progress = progress
		}
		views = append(views, view)
	}
	return views
}

// ParseFilterCriteria reads type, showMine, showInactive, chainIds and search
// from query values. chainIds is a comma-separated list or repeated key.
func ParseFilterCriteria(query url.Values, viewer string) (FilterCriteria, error) {
	criteria := FilterCriteria{
		Viewer: viewer,
		Search: query.Get("search"),
	}

	switch kind := strings.ToLower(query.Get("type")); kind {
	case "", "all", "any":
		criteria.Kind = KindAny
	case "price", "feed":
		criteria.Kind = KindPrice
	case "random":
		criteria.Kind = KindRandom
	default:
		return FilterCriteria{}, fmt.Errorf("unknown subscription type %q", kind)
	}

	var err error
	if criteria.ShowMine, err = parseBoolParam(query, "showMine"); err != nil {
		return FilterCriteria{}, err
	}
	if criteria.ShowInactive, err = parseBoolParam(query, "showInactive"); err != nil {
		return FilterCriteria{}, err
	}

	for _, raw := range query["chainIds"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return FilterCriteria{}, fmt.Errorf("invalid chain id %q", part)
			}
			criteria.ChainIDs = append(criteria.ChainIDs, id)
		}
	}
	return criteria, nil
}

func parseBoolParam(query url.Values, key string) (bool, error) {
	raw := query.Get(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q", key, raw)
	}
	return v, nil
}
