// Package credentials locates the service account key used to reach the warehouse.
package credentials

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/withObsrvr/pypi-ingest/internal/errdefs"
)

// EnvVar holds the credentials path when no explicit override is given.
const EnvVar = "GOOGLE_APPLICATION_CREDENTIALS"

// LookupFunc reads one environment value.
type LookupFunc func(key string) (string, bool)

// Resolver picks the credentials path from an explicit value or the environment.
type Resolver struct {
	lookup LookupFunc
	stat   func(string) (os.FileInfo, error)
	logger *logrus.Entry
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithLogger replaces the default component logger.
func WithLogger(l *logrus.Entry) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver builds a resolver that reads the environment only through lookup.
func NewResolver(lookup LookupFunc, opts ...Option) *Resolver {
	r := &Resolver{
		lookup: lookup,
		stat:   os.Stat,
		logger: logrus.WithField("component", "credentials"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the credentials file path. An explicit value wins over the
// environment; one layer of matching surrounding quotes is stripped.
func (r *Resolver) Resolve(explicit string) (string, error) {
	raw := explicit
	source := "explicit"
	if raw == "" && r.lookup != nil {
		raw, _ = r.lookup(EnvVar)
		source = EnvVar
	}

	path := Unquote(raw)
	r.logger.WithFields(logrus.Fields{
		"source":     source,
		"raw":        raw,
		"normalized": path,
	}).Info("Using service account path")

	if path == "" {
		return "", &errdefs.CredentialsNotFoundError{}
	}
	if _, err := r.stat(path); err != nil {
		return "", &errdefs.CredentialsNotFoundError{Path: path, Err: err}
	}
	return path, nil
}

// Unquote strips exactly one pair of matching straight quotes. Values with
// mismatched or missing quotes are returned unchanged.
func Unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	first, last := s[0], s[len(s)-1]
	if first == last && (first == '"' || first == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}

// KeyInfo is the non-secret metadata of a credentials file.
type KeyInfo struct {
	Type        string
	ProjectID   string
	ClientEmail string
}

// Inspect reads the non-secret fields of a credentials file. It fails when the
// file is not JSON or does not declare a credential type.
func Inspect(path string) (KeyInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KeyInfo{}, &errdefs.CredentialsNotFoundError{Path: path, Err: err}
	}
	if !gjson.ValidBytes(data) {
		return KeyInfo{}, errInvalidKey("credentials file is not valid JSON")
	}
	res := gjson.GetManyBytes(data, "type", "project_id", "client_email")
	info := KeyInfo{
		Type:        res[0].String(),
		ProjectID:   res[1].String(),
		ClientEmail: res[2].String(),
	}
	if info.Type == "" {
		return info, errInvalidKey("credentials file does not declare a type")
	}
	return info, nil
}

type errInvalidKey string

func (e errInvalidKey) Error() string { return string(e) }
