package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// relocateSchema merges the definitions local to the item PUT request body
// and GET 200 response schemas of RESOURCE into the document root
// definitions. Later sources win on key clashes: root, then PUT, then GET.
func relocateSchema(path, resource string, stdout, stderr io.Writer) int {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(stderr, "OpenAPI config file does not exist.")
		return 1
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "read %s: %v\n", path, err)
		return 1
	}
	out, err := relocateDefinitions(data, resource)
	if err != nil {
		fmt.Fprintf(stderr, "relocate %s: %v\n", path, err)
		return 1
	}
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(stderr, "stat %s: %v\n", path, err)
		return 1
	}
	if err := os.WriteFile(path, out, info.Mode().Perm()); err != nil {
		fmt.Fprintf(stderr, "write %s: %v\n", path, err)
		return 1
	}
	fmt.Fprintf(stdout, "Relocated %s definitions in %s\n", resource, path)
	return 0
}

func relocateDefinitions(data []byte, resource string) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, errors.New("document root is not a mapping")
	}
	root := doc.Content[0]

	item := lookup(root, "paths", "/collections/"+resource+"/items/{featureId}")
	if item == nil {
		return nil, fmt.Errorf("no item path for resource %q", resource)
	}

	merged := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, src := range []*yaml.Node{
		lookup(root, "definitions"),
		lookup(item, "put", "requestBody", "content", "application/json", "schema", "definitions"),
		lookup(item, "get", "responses", "200", "content", "application/json", "schema", "definitions"),
	} {
		mergeMapping(merged, src)
	}
	setKey(root, "definitions", merged)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

// lookup walks nested mappings by key. Keys compare by their scalar text, so
// an unquoted 200 matches "200".
func lookup(n *yaml.Node, keys ...string) *yaml.Node {
	for _, k := range keys {
		if n == nil || n.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == k {
				next = n.Content[i+1]
				break
			}
		}
		n = next
	}
	return n
}

func mergeMapping(dst, src *yaml.Node) {
	if src == nil || src.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(src.Content); i += 2 {
		setKey(dst, src.Content[i].Value, src.Content[i+1])
	}
}

func setKey(m *yaml.Node, key string, v *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = v
			return
		}
	}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, v)
}
