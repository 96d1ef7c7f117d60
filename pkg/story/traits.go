package story

import (
	"sort"
	"strings"
)

var traitPairs = [][2]string{
	{"brave", "cowardly"},
	{"kind", "cruel"},
	{"honest", "deceitful"},
	{"calm", "hysterical"},
	{"cheerful", "gloomy"},
	{"confident", "timid"},
	{"loyal", "treacherous"},
	{"patient", "impatient"},
	{"humble", "arrogant"},
	{"gentle", "brutal"},
	{"generous", "greedy"},
	{"cautious", "reckless"},
	{"wise", "foolish"},
	{"diligent", "lazy"},
}

var traitAntonyms = func() map[string][]string {
	m := make(map[string][]string, 2*len(traitPairs))
	for _, p := range traitPairs {
		m[p[0]] = append(m[p[0]], p[1])
		m[p[1]] = append(m[p[1]], p[0])
	}
	return m
}()

// Antonyms returns the traits that contradict trait.
func Antonyms(trait string) []string {
	return traitAntonyms[strings.ToLower(strings.TrimSpace(trait))]
}

// KnownTraits lists the trait vocabulary with known opposites, sorted.
func KnownTraits() []string {
	out := make([]string, 0, len(traitAntonyms))
	for t := range traitAntonyms {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
