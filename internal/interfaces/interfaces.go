package interfaces

import (
	"gorm.io/gorm"
)

// DatabaseInterface 数据库接口
type DatabaseInterface interface {
	GetDB() *gorm.DB
	Close() error
	HealthCheck() error
}

// ConfigInterface 配置接口
type ConfigInterface interface {
	GetConfig() interface{}
	Reload() error
}

// LoggerInterface 日志接口 (匹配zap.Logger)
type LoggerInterface interface {
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	With(fields ...interface{}) LoggerInterface
	WithError(err error) LoggerInterface
	Fatal(msg string, fields ...interface{})
}
