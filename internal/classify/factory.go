package classify

import (
	"fmt"

	"github.com/spf13/afero"

	"share-go/internal/config"
	"share-go/internal/share"
)

// NewClassifierFromConfig creates a Classifier based on the classifier config
// type. It returns nil for "none".
func NewClassifierFromConfig(cfg config.ClassifierConfig) (share.Classifier, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "blocklist":
		if cfg.BlocklistPath == "" {
			return nil, fmt.Errorf("blocklist classifier requires blocklist_path to be set")
		}
		c, err := LoadBlocklist(afero.NewOsFs(), cfg.BlocklistPath)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("http classifier requires url to be set")
		}
		timeout, err := cfg.ScanTimeout()
		if err != nil {
			return nil, err
		}
		return NewHTTPScanner(cfg.URL, timeout), nil
	default:
		return nil, fmt.Errorf("unknown classifier type: %s", cfg.Type)
	}
}

// PolicyFromConfig parses the threat policy and fallback, applying defaults.
func PolicyFromConfig(cfg config.ClassifierConfig) (share.ThreatPolicy, share.ClassifierFallback, error) {
	policy := share.ThreatPolicy(cfg.Policy)
	switch policy {
	case "":
		policy = share.ThreatBlock
	case share.ThreatBlock, share.ThreatWarn:
	default:
		return "", "", fmt.Errorf("unknown classifier policy: %s", cfg.Policy)
	}

	fallback := share.ClassifierFallback(cfg.Fallback)
	switch fallback {
	case "":
		fallback = share.FallbackReject
	case share.FallbackReject, share.FallbackAllow:
	default:
		return "", "", fmt.Errorf("unknown classifier fallback: %s", cfg.Fallback)
	}
	return policy, fallback, nil
}
