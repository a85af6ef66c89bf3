// Package sources loads the list of streams shown on the wall.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"streamwall/internal/platform/logger"
	"streamwall/internal/supervisor"
)

const maxListSize = 4 << 20

// Loader reads descriptor lists from a file path or an http(s) URL.
type Loader struct {
	Client *http.Client
	// Version is sent as the v query parameter to bust intermediate caches.
	Version string
	// Now stamps the ts query parameter. Nil uses time.Now.
	Now func() time.Time
}

// Load reads location with a default Loader.
func Load(ctx context.Context, location string) ([]supervisor.Descriptor, error) {
	return (&Loader{}).Load(ctx, location)
}

// Load returns the descriptors at location. Entries without a src are dropped
// and a payload that is not a list yields an empty slice.
func (l *Loader) Load(ctx context.Context, location string) ([]supervisor.Descriptor, error) {
	var (
		data []byte
		err  error
	)
	if isHTTP(location) {
		data, err = l.fetch(ctx, location)
	} else {
		data, err = os.ReadFile(location)
	}
	if err != nil {
		return nil, err
	}
	return Decode(data, isYAML(location))
}

// Decode parses a JSON (or YAML when yamlFormat is set) descriptor list.
// Entries that are not objects are skipped like entries without a src.
func Decode(data []byte, yamlFormat bool) ([]supervisor.Descriptor, error) {
	var list []supervisor.Descriptor
	if yamlFormat {
		var root yaml.Node
		if err := yaml.Unmarshal(data, &root); err != nil {
			return nil, fmt.Errorf("decode stream list: %w", err)
		}
		if len(root.Content) == 0 || root.Content[0].Kind != yaml.SequenceNode {
			return []supervisor.Descriptor{}, nil
		}
		for _, item := range root.Content[0].Content {
			var d supervisor.Descriptor
			if item.Decode(&d) == nil {
				list = append(list, d)
			}
		}
	} else {
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode stream list: %w", err)
		}
		items, ok := raw.([]any)
		if !ok {
			return []supervisor.Descriptor{}, nil
		}
		for _, item := range items {
			b, _ := json.Marshal(item)
			var d supervisor.Descriptor
			if json.Unmarshal(b, &d) == nil {
				list = append(list, d)
			}
		}
	}

	out := make([]supervisor.Descriptor, 0, len(list))
	for _, d := range list {
		if strings.TrimSpace(d.Src) == "" {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (l *Loader) fetch(ctx context.Context, location string) ([]byte, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse stream list url: %w", err)
	}
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	q := u.Query()
	if l.Version != "" {
		q.Set("v", l.Version)
	}
	q.Set("ts", strconv.FormatInt(now().UnixMilli(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-store")

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch stream list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch stream list %s: status %d", logger.RedactURL(location), resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxListSize))
}

func isHTTP(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

func isYAML(location string) bool {
	p := location
	if u, err := url.Parse(location); err == nil && isHTTP(location) {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
