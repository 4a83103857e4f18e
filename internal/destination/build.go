package destination

import (
	"time"

	"github.com/withObsrvr/pypi-ingest/internal/config"
)

// Options supplies the collaborators destinations need beyond the run parameters.
type Options struct {
	// Lookup reads environment values such as MOTHERDUCK_TOKEN.
	Lookup func(string) (string, bool)
	// Catalog replaces the MotherDuck catalog.
	Catalog Catalog
	// LoadAWSConfig replaces the default AWS configuration chain.
	LoadAWSConfig AWSConfigLoader
	// OpenGCS replaces the GCS bucket opener.
	OpenGCS StoreOpener
	// CredentialsPath is the resolved Google service account key, used for GCS.
	CredentialsPath string
	Now             func() time.Time
}

// Build returns the requested destinations in fan-out order.
func Build(p *config.RunParameters, opts Options) []Destination {
	run := RunFromParams(p)
	var out []Destination
	for _, d := range p.Destinations {
		switch d {
		case config.DestinationS3:
			out = append(out, &S3{
				Path:       p.S3Path,
				Profile:    p.AWSProfile,
				Run:        run,
				LoadConfig: opts.LoadAWSConfig,
				Now:        opts.Now,
			})
		case config.DestinationGCS:
			open := opts.OpenGCS
			if open == nil {
				open = GCSOpener(opts.CredentialsPath)
			}
			out = append(out, &GCS{Path: p.GCSPath, Run: run, Open: open, Now: opts.Now})
		case config.DestinationMotherDuck:
			catalog := opts.Catalog
			if catalog == nil {
				catalog = NewMotherDuckCatalog(opts.Lookup)
			}
			out = append(out, &MotherDuck{Database: p.RemoteDatabase, Run: run, Catalog: catalog})
		case config.DestinationLocal:
			out = append(out, &Local{Dir: p.OutputDir})
		}
	}
	return ordered(out)
}
