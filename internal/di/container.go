package di

import (
	"go.uber.org/dig"
)

// Container 进程级依赖注入容器，由bootstrap创建并装配。
// 向量索引客户端等共享句柄都由容器持有唯一实例。
var Container *dig.Container

// InitContainer 初始化依赖注入容器
func InitContainer() *dig.Container {
	Container = dig.New()
	return Container
}

// GetContainer 获取依赖注入容器实例
func GetContainer() *dig.Container {
	return Container
}
