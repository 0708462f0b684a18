/*
包 catalog 提供后端模型目录与健康探测。

Catalog 对 Provider.ListModels 做重试、并发合并（singleflight）与可选的
Redis 缓存，并提供 Validate 检查对话双方选用的模型是否存在。
Monitor 在后台周期性调用 Provider.HealthCheck，记录最近一次探测结果，
供就绪检查与命令行 health 子命令使用。

对话轮次本身从不经过本包，轮次失败不会被重试。
*/
package catalog
