package config

import (
	"fmt"
	"os"
	"strings"
)

// resolveSecrets replaces ENV=, FILE= and ${VAR} references in credential fields
func resolveSecrets(cfg *Config) error {
	fields := map[string]*string{
		"baidu.api_key":            &cfg.Baidu.APIKey,
		"baidu.secret_key":         &cfg.Baidu.SecretKey,
		"tencent.secret_id":        &cfg.Tencent.SecretID,
		"tencent.secret_key":       &cfg.Tencent.SecretKey,
		"aliyun.access_key_id":     &cfg.Aliyun.AccessKeyID,
		"aliyun.access_key_secret": &cfg.Aliyun.AccessKeySecret,
		"vision.api_key":           &cfg.Vision.APIKey,
	}
	for name, field := range fields {
		resolved, err := loadSecret(*field)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*field = resolved
	}
	return nil
}

// loadSecret resolves a secret value from ENV=, FILE=, ${VAR} or inline
func loadSecret(value string) (string, error) {
	if value == "" {
		return "", nil
	}

	if envVar, ok := strings.CutPrefix(value, "ENV="); ok {
		v := os.Getenv(envVar)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", envVar)
		}
		return v, nil
	}

	if path, ok := strings.CutPrefix(value, "FILE="); ok {
		path = strings.TrimSpace(path)
		if strings.Contains(path, "..") {
			return "", fmt.Errorf("path traversal not allowed: %s", path)
		}
		data, err := os.ReadFile(expandHome(path))
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		varName := value[2 : len(value)-1]
		v := os.Getenv(varName)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", varName)
		}
		return v, nil
	}

	return value, nil
}
