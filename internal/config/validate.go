package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// validateConfig 验证配置，字段级错误聚合后一次性返回
func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("configuration validation failed: %v", msgs)
		}
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if cfg.Retrieval.ScoreThreshold < 0 || cfg.Retrieval.ScoreThreshold > 1 {
		return fmt.Errorf("configuration validation failed: retrieval.score_threshold must be in [0,1], got %v", cfg.Retrieval.ScoreThreshold)
	}

	return nil
}
