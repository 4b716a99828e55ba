package provider

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/plant-for-the-planet/firealert/internal/spatial"
)

// FIRMSConfig configures a FIRMS area-CSV provider.
type FIRMSConfig struct {
	BaseURL string `json:"apiUrl"`
	BBox    string `json:"bbox"`
	Slice   string `json:"slice"`
	// APIKey overrides the provider's clientApiKey when set.
	APIKey string `json:"apiKey,omitempty"`
}

// GOESConfig configures a geostationary GOES-16 fire product provider.
type GOESConfig struct {
	BaseURL     string          `json:"apiUrl"`
	BBox        string          `json:"bbox"`
	Slice       string          `json:"slice"`
	Credentials GOESCredentials `json:"credentials"`
}

// GOESCredentials authenticate against the imagery service.
type GOESCredentials struct {
	ClientEmail     string `json:"client_email"`
	PrivateKeyToken string `json:"private_key"`
}

// fieldRule names one required config field and how to read it.
type fieldRule[T any] struct {
	name string
	get  func(T) string
}

var firmsRules = []fieldRule[FIRMSConfig]{
	{"apiUrl", func(c FIRMSConfig) string { return c.BaseURL }},
	{"bbox", func(c FIRMSConfig) string { return c.BBox }},
	{"slice", func(c FIRMSConfig) string { return c.Slice }},
}

var goesRules = []fieldRule[GOESConfig]{
	{"apiUrl", func(c GOESConfig) string { return c.BaseURL }},
	{"bbox", func(c GOESConfig) string { return c.BBox }},
	{"slice", func(c GOESConfig) string { return c.Slice }},
	{"credentials.client_email", func(c GOESConfig) string { return c.Credentials.ClientEmail }},
	{"credentials.private_key", func(c GOESConfig) string { return c.Credentials.PrivateKeyToken }},
}

// decodeConfig unmarshals raw into T and checks every rule, returning a
// *ConfigurationError that lists all missing fields.
func decodeConfig[T any](adapter string, raw json.RawMessage, rules []fieldRule[T]) (T, error) {
	var cfg T
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, &ConfigurationError{Adapter: adapter, Reason: "config is not a valid object: " + err.Error()}
	}

	var missing []string
	for _, r := range rules {
		if strings.TrimSpace(r.get(cfg)) == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return cfg, &ConfigurationError{Adapter: adapter, Fields: missing}
	}
	return cfg, nil
}

// validateCommon checks the base URL and bounding box shared by every family.
func validateCommon(adapter, baseURL, bbox string) (spatial.BBox, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return spatial.BBox{}, &ConfigurationError{Adapter: adapter, Reason: "apiUrl is not an absolute URL"}
	}
	box, err := spatial.ParseBBox(bbox)
	if err != nil {
		return spatial.BBox{}, &ConfigurationError{Adapter: adapter, Reason: err.Error()}
	}
	return box, nil
}
