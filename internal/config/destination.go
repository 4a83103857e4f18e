package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/withObsrvr/pypi-ingest/internal/errdefs"
)

// Destination identifies one write-out target.
type Destination string

const (
	DestinationS3         Destination = "s3"
	DestinationGCS        Destination = "gcs"
	DestinationMotherDuck Destination = "motherduck"
	DestinationLocal      Destination = "local"
)

// FanOutOrder is the fixed evaluation order of destinations.
var FanOutOrder = []Destination{
	DestinationS3,
	DestinationGCS,
	DestinationMotherDuck,
	DestinationLocal,
}

// Rank returns the position of d in FanOutOrder, or -1 if d is unknown.
func (d Destination) Rank() int {
	for i, o := range FanOutOrder {
		if o == d {
			return i
		}
	}
	return -1
}

// ParseDestinations splits a comma separated list into a deduplicated set
// ordered by FanOutOrder.
func ParseDestinations(raw string) ([]Destination, error) {
	seen := make(map[Destination]bool)
	var out []Destination
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		d := Destination(tok)
		if d.Rank() < 0 {
			return nil, errdefs.Invalid(KeyDestination, fmt.Sprintf("unrecognized destination %q", tok))
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, errdefs.Missing(KeyDestination)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank() < out[j].Rank() })
	return out, nil
}
