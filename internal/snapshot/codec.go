package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Codec serializes a snapshot document. Unmarshal returns loosely typed
// values so Decode can reject anything that is not a non-negative integer.
type Codec interface {
	Name() string
	Marshal(doc map[string]uint64) ([]byte, error)
	Unmarshal(data []byte) (map[string]any, error)
}

// CodecFor selects a codec from the snapshot file extension. Paths
// without an extension use TOML.
func CodecFor(path string) (Codec, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case "", ".toml":
		return tomlCodec{}, nil
	case ".json":
		return jsonCodec{}, nil
	case ".yaml", ".yml":
		return yamlCodec{}, nil
	case ".cbor":
		return cborCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}
}

type tomlCodec struct{}

func (tomlCodec) Name() string { return "toml" }

func (tomlCodec) Marshal(doc map[string]uint64) ([]byte, error) {
	return toml.Marshal(doc)
}

func (tomlCodec) Unmarshal(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(doc map[string]uint64) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (jsonCodec) Unmarshal(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

type yamlCodec struct{}

func (yamlCodec) Name() string { return "yaml" }

func (yamlCodec) Marshal(doc map[string]uint64) ([]byte, error) {
	return yaml.Marshal(doc)
}

func (yamlCodec) Unmarshal(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("snapshot: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

func (cborCodec) Name() string { return "cbor" }

func (cborCodec) Marshal(doc map[string]uint64) ([]byte, error) {
	return cborEnc.Marshal(doc)
}

func (cborCodec) Unmarshal(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := cborDec.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
