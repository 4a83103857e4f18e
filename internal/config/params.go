// Package config builds the validated parameter set for one ingestion run.
//
// Settings are merged from an ordered list of sources (explicit flags first,
// then the environment, then an optional config file); the first source that
// holds a non-empty value for a key wins. Required settings are never
// defaulted.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/withObsrvr/pypi-ingest/internal/errdefs"
)

// DateLayout is the accepted format for start_date and end_date.
const DateLayout = "2006-01-02"

const (
	DefaultRemoteDatabase = "pypi"
	DefaultOutputDir      = "."
	MaxIdentifierLength   = 64
)

var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier checks that a name can be interpolated into SQL as an identifier.
func ValidIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("identifier exceeds maximum length of %d characters: %s", MaxIdentifierLength, name)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("identifier contains invalid characters (letters, digits and underscores only): %s", name)
	}
	return nil
}

// Source looks up a raw setting value by key.
type Source func(key string) (string, bool)

// MapSource serves settings from a map keyed by setting key.
func MapSource(m map[string]string) Source {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// EnvSource serves settings from environment variables through lookup,
// translating setting keys with EnvKey. Keys without an env binding are absent.
func EnvSource(lookup func(string) (string, bool)) Source {
	return func(key string) (string, bool) {
		name := EnvKey(key)
		if name == "" || lookup == nil {
			return "", false
		}
		return lookup(name)
	}
}

// RunParameters is the validated configuration of one run.
type RunParameters struct {
	StartDate       string
	EndDate         string
	PyPIProject     string
	TableName       string
	GCPProject      string
	TimestampColumn string
	Destinations    []Destination
	S3Path          string
	AWSProfile      string
	GCSPath         string
	CredentialsPath string
	RemoteDatabase  string
	DuckDBPath      string
	OutputDir       string

	start time.Time
	end   time.Time
}

// Load merges sources in precedence order and validates the result.
func Load(sources ...Source) (*RunParameters, error) {
	get := func(key string) string {
		for _, src := range sources {
			if src == nil {
				continue
			}
			if v, ok := src(key); ok {
				if v = strings.TrimSpace(v); v != "" {
					return v
				}
			}
		}
		return ""
	}

	var missing []string
	values := make(map[string]string, len(Fields))
	for _, f := range Fields {
		values[f.Key] = get(f.Key)
		if f.Required && values[f.Key] == "" {
			missing = append(missing, f.Key)
		}
	}
	if len(missing) > 0 {
		return nil, errdefs.Missing(missing...)
	}

	p := &RunParameters{
		StartDate:       values[KeyStartDate],
		EndDate:         values[KeyEndDate],
		PyPIProject:     values[KeyPyPIProject],
		TableName:       values[KeyTableName],
		GCPProject:      values[KeyGCPProject],
		TimestampColumn: values[KeyTimestampColumn],
		S3Path:          strings.TrimRight(values[KeyS3Path], "/"),
		AWSProfile:      values[KeyAWSProfile],
		GCSPath:         strings.TrimRight(values[KeyGCSPath], "/"),
		CredentialsPath: values[KeyCredentials],
		RemoteDatabase:  values[KeyRemoteDatabase],
		DuckDBPath:      values[KeyDuckDBPath],
		OutputDir:       values[KeyOutputDir],
	}
	if p.RemoteDatabase == "" {
		p.RemoteDatabase = DefaultRemoteDatabase
	}
	if p.OutputDir == "" {
		p.OutputDir = DefaultOutputDir
	}

	dests, err := ParseDestinations(values[KeyDestination])
	if err != nil {
		return nil, err
	}
	p.Destinations = dests

	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RunParameters) validate() error {
	start, err := time.Parse(DateLayout, p.StartDate)
	if err != nil {
		return errdefs.Invalid(KeyStartDate, fmt.Sprintf("%q is not a YYYY-MM-DD date", p.StartDate))
	}
	end, err := time.Parse(DateLayout, p.EndDate)
	if err != nil {
		return errdefs.Invalid(KeyEndDate, fmt.Sprintf("%q is not a YYYY-MM-DD date", p.EndDate))
	}
	if !start.Before(end) {
		return &errdefs.ConfigurationError{
			Fields:  []string{KeyStartDate, KeyEndDate},
			Problem: fmt.Sprintf("start_date %s must be before end_date %s", p.StartDate, p.EndDate),
		}
	}
	p.start, p.end = start, end

	if err := ValidIdentifier(p.TableName); err != nil {
		return errdefs.Invalid(KeyTableName, err.Error())
	}
	if err := ValidIdentifier(p.TimestampColumn); err != nil {
		return errdefs.Invalid(KeyTimestampColumn, err.Error())
	}
	if p.Has(DestinationMotherDuck) {
		if err := ValidIdentifier(p.RemoteDatabase); err != nil {
			return errdefs.Invalid(KeyRemoteDatabase, err.Error())
		}
	}
	if p.GCSPath != "" && !strings.HasPrefix(p.GCSPath, "gs://") {
		return errdefs.Invalid(KeyGCSPath, fmt.Sprintf("%q must start with gs://", p.GCSPath))
	}
	return nil
}

// Has reports whether d is among the requested destinations.
func (p *RunParameters) Has(d Destination) bool {
	for _, x := range p.Destinations {
		if x == d {
			return true
		}
	}
	return false
}

// Window returns the half-open [start, end) interval of the run in UTC.
func (p *RunParameters) Window() (time.Time, time.Time) {
	return p.start, p.end
}

// DestinationNames returns the destinations as plain strings in fan-out order.
func (p *RunParameters) DestinationNames() []string {
	names := make([]string, len(p.Destinations))
	for i, d := range p.Destinations {
		names[i] = string(d)
	}
	return names
}

// Settings returns the resolved parameters keyed by setting key.
func (p *RunParameters) Settings() map[string]string {
	return map[string]string{
		KeyStartDate:       p.StartDate,
		KeyEndDate:         p.EndDate,
		KeyPyPIProject:     p.PyPIProject,
		KeyTableName:       p.TableName,
		KeyGCPProject:      p.GCPProject,
		KeyTimestampColumn: p.TimestampColumn,
		KeyDestination:     strings.Join(p.DestinationNames(), ","),
		KeyS3Path:          p.S3Path,
		KeyAWSProfile:      p.AWSProfile,
		KeyGCSPath:         p.GCSPath,
		KeyCredentials:     p.CredentialsPath,
		KeyRemoteDatabase:  p.RemoteDatabase,
		KeyDuckDBPath:      p.DuckDBPath,
		KeyOutputDir:       p.OutputDir,
	}
}
