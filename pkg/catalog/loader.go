package catalog

import (
	"bytes"
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type document struct {
	Name     string    `yaml:"name"`
	Versions []Version `yaml:"versions"`
}

// Load decodes a YAML catalog document from r.
// Unknown fields are rejected so typos in rule names fail at startup.
func Load(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Join(ErrFailedToParseCatalog, err)
	}

	return New(doc.Name, doc.Versions...)
}

// Parse decodes a YAML catalog document from data.
func Parse(data []byte) (*Catalog, error) {
	return Load(bytes.NewReader(data))
}

// LoadFile reads and decodes the catalog at path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}
	defer f.Close()

	return Load(f)
}
