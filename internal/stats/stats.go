package stats

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/stravadash/internal/models"
)

type Mode string

const (
	ModeRun  Mode = "run"
	ModeBike Mode = "bike"
	ModeAll  Mode = "all"

	YearAll = "all"
)

var (
	runSports  = map[string]bool{"run": true, "walk": true, "hike": true, "trailrun": true}
	bikeSports = map[string]bool{"ride": true, "mountainbikeride": true}

	thousand    = decimal.NewFromInt(1000)
	hour        = decimal.NewFromInt(3600)
	msToKmh     = decimal.RequireFromString("3.6")
	minusOne    = decimal.NewFromInt(-1)
	dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeRun, ModeBike, ModeAll:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Best activity in a category
type Record struct {
	SpeedKmh    decimal.Decimal
	TimeSeconds decimal.Decimal
}

type Stats struct {
	Count       int
	TimeSeconds decimal.Decimal
	DistanceKm  decimal.Decimal
	SpeedKmh    decimal.Decimal // average over the selection, zero without time

	Fastest *Record // nil when selection is empty
	Longest *Record
}

// Fields of strava activity used for aggregation
type activity struct {
	Type           string          `json:"type"`
	SportType      string          `json:"sport_type"`
	StartDate      string          `json:"start_date"`
	StartDateLocal string          `json:"start_date_local"`
	MovingTime     decimal.Decimal `json:"moving_time"`
	ElapsedTime    decimal.Decimal `json:"elapsed_time"`
	Distance       decimal.Decimal `json:"distance"`
	AverageSpeed   decimal.Decimal `json:"average_speed"`
}

func (a activity) sport() string {
	if a.SportType != "" {
		return strings.ToLower(a.SportType)
	}
	return strings.ToLower(a.Type)
}

func (a activity) matchMode(mode Mode) bool {
	sport := a.sport()

	switch mode {
	case ModeRun:
		return runSports[sport]
	case ModeBike:
		return bikeSports[sport]
	default:
		return runSports[sport] || bikeSports[sport]
	}
}

func (a activity) matchYear(year string) bool {
	if year == YearAll {
		return true
	}

	date := a.StartDateLocal
	if date == "" {
		date = a.StartDate
	}
	if date == "" {
		return false
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, date); err == nil {
			return strconv.Itoa(t.Year()) == year
		}
	}
	return false
}

func (a activity) timeSeconds() decimal.Decimal {
	if a.MovingTime.IsPositive() {
		return a.MovingTime
	}
	if a.ElapsedTime.IsPositive() {
		return a.ElapsedTime
	}
	return decimal.Zero
}

func (a activity) distanceKm() decimal.Decimal {
	return a.Distance.Div(thousand)
}

func (a activity) speedKmh() decimal.Decimal {
	t := a.timeSeconds()
	d := a.distanceKm()

	if t.IsPositive() && d.IsPositive() {
		return kmh(d, t)
	}
	if !a.AverageSpeed.IsZero() {
		return a.AverageSpeed.Mul(msToKmh)
	}
	return decimal.Zero
}

// Calculate aggregates activities of the sport mode started in the year
// Year is either "all" or four digits. Activities that can't be decoded are skipped
func Calculate(activities []models.Activity, year string, mode Mode) Stats {
	s := Stats{
		TimeSeconds: decimal.Zero,
		DistanceKm:  decimal.Zero,
		SpeedKmh:    decimal.Zero,
	}

	topSpeed := minusOne
	topDistance := minusOne

	for _, raw := range activities {
		var a activity
		if err := raw.Decode(&a); err != nil {
			continue
		}
		if !a.matchMode(mode) || !a.matchYear(year) {
			continue
		}

		t := a.timeSeconds()
		d := a.distanceKm()
		speed := a.speedKmh()

		s.Count++
		s.TimeSeconds = s.TimeSeconds.Add(t)
		s.DistanceKm = s.DistanceKm.Add(d)

		if speed.GreaterThan(topSpeed) {
			topSpeed = speed
			s.Fastest = &Record{SpeedKmh: speed, TimeSeconds: t}
		}
		if d.GreaterThan(topDistance) {
			topDistance = d
			s.Longest = &Record{SpeedKmh: speed, TimeSeconds: t}
		}
	}

	if s.TimeSeconds.IsPositive() {
		s.SpeedKmh = kmh(s.DistanceKm, s.TimeSeconds)
	}

	return s
}

func kmh(distanceKm decimal.Decimal, seconds decimal.Decimal) decimal.Decimal {
	return distanceKm.Mul(hour).Div(seconds)
}
