package manifest

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

const logPrefix = "manifest:loader"

// EnvContractFile names an extra document path to try.
const EnvContractFile = "BRIDGE_CONTRACT_FILE"

//go:embed default.yaml
var defaultDocument []byte

//go:embed document.schema.json
var documentSchema string

var documentSchemaLoader = gojsonschema.NewStringLoader(documentSchema)

// DefaultSource is the source name reported for the built-in document.
const DefaultSource = "<built-in>"

// Load reads a contract document. It tries paths in order: first any paths
// passed in, then BRIDGE_CONTRACT_FILE, then config/contract.yaml and
// contract.yaml. Missing files are skipped. An explicit path that exists but
// does not parse is an error; a broken env or default file is logged and
// skipped. With nothing found the built-in document is used. The returned
// string names where the document came from.
func Load(paths ...string) (*Document, string, error) {
	type candidate struct {
		path     string
		explicit bool
	}
	all := make([]candidate, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, candidate{p, true})
		}
	}
	if envPath := os.Getenv(EnvContractFile); envPath != "" {
		all = append(all, candidate{envPath, false})
	}
	all = append(all, candidate{"config/contract.yaml", false}, candidate{"contract.yaml", false})

	for _, c := range all {
		data, err := os.ReadFile(c.path)
		if err != nil {
			if c.explicit {
				return nil, "", fmt.Errorf("%s - failed to read %s: %w", logPrefix, c.path, err)
			}
			continue
		}

		doc, err := Parse(data)
		if err != nil {
			if c.explicit {
				return nil, "", fmt.Errorf("%s - %s: %w", logPrefix, c.path, err)
			}
			slog.Warn(fmt.Sprintf("%s - Failed to parse contract file %s: %v", logPrefix, c.path, err))
			continue
		}

		slog.Info(fmt.Sprintf("%s - Loaded contract document from %s", logPrefix, c.path))
		return doc, c.path, nil
	}

	slog.Info(fmt.Sprintf("%s - Using built-in contract document", logPrefix))
	doc, err := Default()
	return doc, DefaultSource, err
}

// Default returns the built-in document.
func Default() (*Document, error) {
	return Parse(defaultDocument)
}

// Parse decodes a YAML or JSON document and checks its shape.
func Parse(data []byte) (*Document, error) {
	var generic map[string]any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("malformed document: %w", err)
	}
	if generic == nil {
		return nil, fmt.Errorf("empty document")
	}

	result, err := gojsonschema.Validate(documentSchemaLoader, gojsonschema.NewGoLoader(generic))
	if err != nil {
		return nil, fmt.Errorf("cannot validate document: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid document: %s", strings.Join(msgs, "; "))
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed document: %w", err)
	}
	return &doc, nil
}

// Marshal renders doc as YAML.
func Marshal(doc *Document) ([]byte, error) {
	return yaml.Marshal(doc)
}
