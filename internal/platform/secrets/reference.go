package secrets

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	scheme        = "secret"
	legacyScheme  = "sm"
	latestVersion = "latest"
)

// reference is a parsed secret://name[?version=N&project=P] URI.
type reference struct {
	canonical string
	name      string
	version   string
	project   string
}

func parseReference(raw string) (reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	switch u.Scheme {
	case scheme:
	case legacyScheme:
		u.Scheme = scheme
	default:
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: reference %q has no secret name", raw)
	}

	query := u.Query()
	u.RawQuery, u.Fragment = "", ""
	return reference{
		canonical: u.String(),
		name:      name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

// key identifies one version of the secret in the cache and the fallback file.
func (r reference) key(version string) string {
	return r.canonical + "#" + version
}

// masked is a stable short hash of the reference, safe for logs and metric attributes.
func (r reference) masked() string {
	sum := sha256.Sum256([]byte(r.canonical))
	return hex.EncodeToString(sum[:8])
}

func (r reference) resourceName(project, version string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, r.name, version)
}
