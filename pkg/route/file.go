package route

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// fileFormat はルート定義ファイルのYAML表現。
//
//	routes:
//	  - pattern: /api/cart/**
//	    upstream: http://cart:8080
//	  - pattern: /api/products/**
//	    upstream: http://product:8080
//	    public: true
type fileFormat struct {
	Routes []fileRoute `yaml:"routes"`
}

type fileRoute struct {
	Pattern      string `yaml:"pattern"`
	Upstream     string `yaml:"upstream"`
	Public       bool   `yaml:"public"`
	RequiredRole string `yaml:"required_role"`
}

// LoadFile はYAMLファイルからルート定義を読み込む。
func LoadFile(filename string) ([]Route, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("ルート定義ファイルの読み込みに失敗: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse はYAMLからルート定義を読み込む。定義順が登録順になる。
func Parse(r io.Reader) ([]Route, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f fileFormat
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("ルート定義のパースに失敗: %w", err)
	}

	routes := make([]Route, 0, len(f.Routes))
	for i, fr := range f.Routes {
		upstream, err := url.Parse(fr.Upstream)
		if err != nil {
			return nil, fmt.Errorf("ルート%d: 転送先URLが不正です: %w", i, err)
		}
		routes = append(routes, Route{
			Pattern:      fr.Pattern,
			Upstream:     upstream,
			Public:       fr.Public,
			RequiredRole: fr.RequiredRole,
		})
	}
	return routes, nil
}
