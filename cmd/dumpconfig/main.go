package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"

	"github.com/ncecere/open_media_gateway/backend/internal/config"
)

const redacted = "[redacted]"

// dumpconfig prints the effective configuration with secrets masked.
func main() {
	configFile := flag.String("config", "", "path to router config (defaults to ROUTER_CONFIG_FILE or ./router.yaml)")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	redact(cfg)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		log.Fatalf("encode config: %v", err)
	}
}

func redact(cfg *config.Config) {
	cfg.Providers.RunPodKey = mask(cfg.Providers.RunPodKey)
	cfg.Providers.OpenAIKey = mask(cfg.Providers.OpenAIKey)
	cfg.Files.EncryptionKey = mask(cfg.Files.EncryptionKey)
	cfg.Files.S3.SecretAccessKey = mask(cfg.Files.S3.SecretAccessKey)
	cfg.Files.S3.SessionToken = mask(cfg.Files.S3.SessionToken)
	cfg.Redis.URL = redactURL(cfg.Redis.URL)
	for i := range cfg.Server.APIKeys {
		cfg.Server.APIKeys[i] = mask(cfg.Server.APIKeys[i])
	}
	for i := range cfg.ModelCatalog {
		entry := &cfg.ModelCatalog[i]
		entry.APIKey = mask(entry.APIKey)
		if entry.RunPod != nil {
			entry.RunPod.APIKey = mask(entry.RunPod.APIKey)
		}
		if entry.OpenAI != nil {
			entry.OpenAI.APIKey = mask(entry.OpenAI.APIKey)
		}
		if entry.OpenAICompatible != nil {
			entry.OpenAICompatible.APIKey = mask(entry.OpenAICompatible.APIKey)
		}
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return redacted
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
