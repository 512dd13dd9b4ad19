package middleware

import (
	"fmt"
	"net/http"
	"rag-api-go/pkg/log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// RateLimit 返回一个按客户端 IP 的固定窗口限流中间件。
// 计数器存放在 Redis 中（INCR + EXPIRE，窗口为 1 分钟），
// bucket 用于区分不同限额的路由组。Redis 不可用时放行并告警，
// 保护外部服务的限流不应成为自身的单点。
func RateLimit(rdb *redis.Client, bucket string, perMinute int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if perMinute <= 0 {
			c.Next()
			return
		}

		window := time.Now().Unix() / 60
		key := fmt.Sprintf("ratelimit:%s:%s:%d", bucket, c.ClientIP(), window)

		ctx := c.Request.Context()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			log.Warnf("[RateLimit] Redis 计数失败, 放行请求: %v", err)
			c.Next()
			return
		}
		if count == 1 {
			// 首次计数时设置窗口过期，略长于窗口以容忍时钟偏移
			rdb.Expire(ctx, key, 2*time.Minute)
		}

		if count > int64(perMinute) {
			log.Warnf("[RateLimit] 客户端超出限流阈值, bucket: %s, clientIP: %s, count: %d", bucket, c.ClientIP(), count)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests."})
			return
		}

		c.Next()
	}
}
