package webdb

import "encoding/json"

// Config is the JSON payload Open accepts, mirroring the shape the source's
// WebDBConfig carries: a storage path, a threading hint the Go build has no
// use for beyond recording it, and behavior flags.
type Config struct {
	Path           string `json:"path"`
	MaximumThreads uint32 `json:"maximum_threads"`
	EmitBigint     bool   `json:"emit_bigint"`
	Filesystem     struct {
		AllowFullHTTPReads bool `json:"allow_full_http_reads"`
	} `json:"filesystem"`
}

// parseConfig unmarshals raw into a Config, defaulting emit_bigint to true
// when the key is absent (only an explicit `"emit_bigint": false` requests
// the lossy double-precision rewrite).
func parseConfig(raw []byte) (Config, error) {
	var cfg Config
	cfg.EmitBigint = true
	if len(raw) == 0 {
		return cfg, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Config{}, err
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	if _, has := probe["emit_bigint"]; !has {
		cfg.EmitBigint = true
	}
	return cfg, nil
}

func (c Config) isMemory() bool {
	return c.Path == "" || c.Path == ":memory:"
}
