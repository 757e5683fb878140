package intake

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultBotSignatures are the compiled-in crawler tokens. Matching is a
// case-insensitive substring check against the User-Agent.
var defaultBotSignatures = []string{
	"bot",
	"crawler",
	"spider",
	"slurp",
	"scraper",
	"curl/",
	"wget/",
	"python-requests",
	"python-urllib",
	"go-http-client",
	"java/",
	"libwww-perl",
	"httpclient",
	"headlesschrome",
	"phantomjs",
	"lighthouse",
	"pingdom",
	"uptimerobot",
	"facebookexternalhit",
	"semrush",
	"ahrefs",
	"mj12bot",
	"dotbot",
	"petalbot",
	"bytespider",
	"gptbot",
	"ccbot",
}

// BotDetector classifies a request as automated traffic from its User-Agent
// and header shape.
type BotDetector struct {
	signatures []string
}

// botRuleFile is the on-disk YAML shape: one signature list per file.
type botRuleFile struct {
	Signatures []string `yaml:"signatures"`
}

// NewBotDetector builds a detector from the compiled-in signatures plus any
// *.yaml rule files found in dir. A missing or empty dir is valid (defaults
// only). Signatures are normalized to lowercase at load time.
func NewBotDetector(dir string) (*BotDetector, error) {
	d := &BotDetector{}
	for _, sig := range defaultBotSignatures {
		d.signatures = append(d.signatures, strings.ToLower(sig))
	}

	if dir == "" {
		return d, nil
	}

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bot rules dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("bot rules path %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading bot rules dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading bot rule file %s: %w", path, err)
		}

		var raw botRuleFile
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing bot rule file %s: %w", path, err)
		}
		for _, sig := range raw.Signatures {
			sig = strings.ToLower(strings.TrimSpace(sig))
			if sig != "" {
				d.signatures = append(d.signatures, sig)
			}
		}
	}

	return d, nil
}

// IsBot reports whether the request looks automated. An absent User-Agent is
// treated as a bot: real browsers always send one, crawlers frequently don't.
func (d *BotDetector) IsBot(userAgent string) bool {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return true
	}
	for _, sig := range d.signatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}
