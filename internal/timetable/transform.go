package timetable

import (
	"strings"

	"github.com/cerdanyolabus/busmap/internal/models"
)

// minutesSuffix is appended to the provider's minute count as the UI shows it
const minutesSuffix = " seg"

// Normalize converts provider lines into the UI view model, one output line
// per input line in the same order. Empty lines are kept.
func Normalize(raw []models.RawLineTimetable) []models.NormalizedLineTimetable {
	out := make([]models.NormalizedLineTimetable, 0, len(raw))
	for _, line := range raw {
		nextBuses := []models.NormalizedJourney{}
		for _, journey := range line.Trayectos {
			for _, p := range journey.Predictions {
				if p == nil {
					continue
				}
				nextBuses = append(nextBuses, models.NormalizedJourney{
					Name:        journey.Destination,
					Real:        p.Real == "S",
					MinutesLeft: MinutesLeft(p.Minutos),
				})
			}
		}

		out = append(out, models.NormalizedLineTimetable{
			LineID:    line.IDLinea,
			LineName:  line.DescLinea,
			NextBuses: nextBuses,
		})
	}
	return out
}

// MinutesLeft truncates a decimal minute count at the first '.'
func MinutesLeft(minutos string) string {
	whole, _, _ := strings.Cut(minutos, ".")
	return whole + minutesSuffix
}

// WithBuses drops lines without upcoming buses
func WithBuses(lines []models.NormalizedLineTimetable) []models.NormalizedLineTimetable {
	out := make([]models.NormalizedLineTimetable, 0, len(lines))
	for _, line := range lines {
		if len(line.NextBuses) > 0 {
			out = append(out, line)
		}
	}
	return out
}
