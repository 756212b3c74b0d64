package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// UpdateCallback 配置更新回调函数类型
type UpdateCallback func(oldConfig, newConfig *Config) error

var (
	watchMu   sync.Mutex
	watching  bool
	callbacks []UpdateCallback
)

// RegisterCallback 注册配置更新回调
func RegisterCallback(cb UpdateCallback) {
	watchMu.Lock()
	defer watchMu.Unlock()
	callbacks = append(callbacks, cb)
}

// StartWatching 开始监听配置文件变化，热更新检索运行时参数
func StartWatching(configFile string) error {
	watchMu.Lock()
	defer watchMu.Unlock()

	if watching {
		return fmt.Errorf("config watcher is already running")
	}
	if configFile == "" {
		return fmt.Errorf("config file path is required for watching")
	}

	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		handleConfigChange()
	})

	watching = true
	return nil
}

// StopWatching 停止监听配置文件变化
func StopWatching() {
	watchMu.Lock()
	defer watchMu.Unlock()
	watching = false
}

// handleConfigChange 重新装配配置并通知回调
func handleConfigChange() {
	oldConfig := AppConfig

	if err := LoadConfig(); err != nil {
		fmt.Printf("Config reload failed, keeping previous config: %v\n", err)
		AppConfig = oldConfig
		return
	}

	watchMu.Lock()
	cbs := make([]UpdateCallback, len(callbacks))
	copy(cbs, callbacks)
	watchMu.Unlock()

	for _, cb := range cbs {
		if err := cb(oldConfig, AppConfig); err != nil {
			// 继续执行其他回调，不因一个失败而停止
			fmt.Printf("Config update callback failed: %v\n", err)
		}
	}
}
