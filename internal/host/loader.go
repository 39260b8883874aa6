// SPDX-License-Identifier: MPL-2.0

package host

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/modhost/modhost/pkg/catalog"
)

const (
	// NoError means every requested module is loadable.
	NoError ErrorCode = iota
	// IncompatibleVersion means the requested API level is unsupported.
	IncompatibleVersion
	// NotFound means some modules are neither installed nor retrievable.
	NotFound
	// InvalidParameters means the request is malformed.
	InvalidParameters
	// InvalidRequiredVersion means the catalog is older than the required
	// minimum version.
	InvalidRequiredVersion
	// RetrievalCanceled means the retrieval ended without success.
	RetrievalCanceled
)

const (
	// MinAPILevel is the oldest loader API level served.
	MinAPILevel = 1
	// MaxAPILevel is the newest loader API level served.
	MaxAPILevel = 4
)

type (
	// ErrorCode is the loader response status.
	ErrorCode int

	// LoaderRequest asks for a set of modules.
	LoaderRequest struct {
		RequiredModules   []string          `json:"required_modules"`
		ApplicationTitle  string            `json:"application_title"`
		MinimumAPILevel   int               `json:"minimum_api_level"`
		MinimumVersion    string            `json:"minimum_version"`
		Sources           []string          `json:"sources,omitempty"`
		Repository        string            `json:"repository,omitempty"`
		Environment       map[string]string `json:"environment,omitempty"`
		ApplicationParams []string          `json:"application_params,omitempty"`
		// Retrieve defaults to true. When false a missing module is
		// reported as NotFound without contacting any source.
		Retrieve *bool `json:"retrieve,omitempty"`
	}

	// LoaderResponse is what the loader needs to start the application.
	LoaderResponse struct {
		NativeLibraries   []string          `json:"native_libraries"`
		JarPath           string            `json:"jar_path"`
		StaticInitClasses []string          `json:"static_init_classes"`
		LibPath           string            `json:"lib_path"`
		LibsPath          string            `json:"libs_path"`
		LoaderClass       string            `json:"loader_class,omitempty"`
		Environment       map[string]string `json:"environment,omitempty"`
		ApplicationParams []string          `json:"application_params,omitempty"`
		Missing           []string          `json:"missing,omitempty"`
		ErrorCode         ErrorCode         `json:"error_code"`
		ErrorMessage      string            `json:"error_message,omitempty"`
	}

	// minimumVersion is the parsed form of LoaderRequest.MinimumVersion.
	minimumVersion struct {
		raw        string
		constraint *semver.Constraints
	}
)

// String returns the kebab-case code name used in logs and metrics.
func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "no-error"
	case IncompatibleVersion:
		return "incompatible-version"
	case NotFound:
		return "not-found"
	case InvalidParameters:
		return "invalid-parameters"
	case InvalidRequiredVersion:
		return "invalid-required-version"
	case RetrievalCanceled:
		return "retrieval-canceled"
	default:
		return fmt.Sprintf("code-%d", int(c))
	}
}

// ShouldRetrieve reports whether missing modules may be fetched.
func (r *LoaderRequest) ShouldRetrieve() bool {
	return r.Retrieve == nil || *r.Retrieve
}

// Modules returns the required module names.
func (r *LoaderRequest) Modules() []catalog.ModuleName {
	out := make([]catalog.ModuleName, len(r.RequiredModules))
	for i, m := range r.RequiredModules {
		out[i] = catalog.ModuleName(m)
	}
	return out
}

// check applies the request checks that need no catalog, in order:
// required fields, then API level. It returns NoError when the request may
// proceed.
func (r *LoaderRequest) check() (ErrorCode, string) {
	switch {
	case len(r.RequiredModules) == 0:
		return InvalidParameters, "required_modules is missing"
	case strings.TrimSpace(r.ApplicationTitle) == "":
		return InvalidParameters, "application_title is missing"
	case r.MinimumAPILevel == 0:
		return InvalidParameters, "minimum_api_level is missing"
	case strings.TrimSpace(r.MinimumVersion) == "":
		return InvalidParameters, "minimum_version is missing"
	}
	for _, m := range r.Modules() {
		if err := m.Validate(); err != nil {
			return InvalidParameters, err.Error()
		}
	}
	if r.Repository != "" {
		if err := catalog.Repository(r.Repository).Validate(); err != nil {
			return InvalidParameters, err.Error()
		}
	}
	if r.MinimumAPILevel < MinAPILevel || r.MinimumAPILevel > MaxAPILevel {
		return IncompatibleVersion, fmt.Sprintf("API level %d is not supported (supported: %d..%d)",
			r.MinimumAPILevel, MinAPILevel, MaxAPILevel)
	}
	return NoError, ""
}

// parseMinimumVersion accepts a version, which means "at least", or a
// semver constraint such as ">= 5.1, < 6".
func parseMinimumVersion(raw string) (*minimumVersion, error) {
	raw = strings.TrimSpace(raw)
	expr := raw
	if _, err := semver.NewVersion(raw); err == nil {
		expr = ">= " + raw
	}
	c, err := semver.NewConstraint(expr)
	if err != nil {
		return nil, fmt.Errorf("minimum_version %q: %w", raw, err)
	}
	return &minimumVersion{raw: raw, constraint: c}, nil
}

// allows reports whether the catalog version satisfies the minimum. An
// unparsable catalog version never does.
func (m *minimumVersion) allows(catalogVersion string) (bool, string) {
	v, err := semver.NewVersion(catalogVersion)
	if err != nil {
		return false, fmt.Sprintf("catalog version %q is not comparable with %q", catalogVersion, m.raw)
	}
	if !m.constraint.Check(v) {
		return false, fmt.Sprintf("catalog version %s does not satisfy %s", catalogVersion, m.raw)
	}
	return true, ""
}
