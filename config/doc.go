/*
Package config 提供 infergate 的配置加载与校验。

配置优先级: 默认值 → YAML 文件 → 环境变量（INFERGATE_ 前缀）。

工作负载类（classes）的准入、排队与批量策略在 broker 实例创建时固化，
不支持运行时热更新：并发上限与队列容量是跨组件一致性的前提，
变更需重建 broker 实例。

# 使用示例

	cfg, err := config.NewLoader().
	    WithConfigPath("config.yaml").
	    Load()
	if err != nil {
	    log.Fatal(err)
	}
*/
package config
