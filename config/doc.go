// Package config 提供 structflow 的配置管理。
//
// 加载顺序为默认值、YAML 文件、STRUCTFLOW_ 前缀的环境变量，
// 最后由命令行参数通过 Merge 覆盖。FileWatcher 监听提示词目录
// 文件变化，用于服务模式下的热加载。
package config
