// router.go
package web

import (
	"github.com/gofiber/fiber/v2"

	"AccuracyCoverage/src/config"
	"AccuracyCoverage/src/processor"
	"AccuracyCoverage/src/storage"
)

// SetupRoutes 注册全部HTTP路由
func SetupRoutes(app *fiber.App, analyzer *processor.Analyzer, dcfg *config.DataConfig, logger *storage.Logger) {
	handler := NewHandler(analyzer, dcfg, logger)

	// 健康检查
	app.Get("/health", handler.HealthCheck)

	// API v1 路由
	api := app.Group("/api/v1")
	{
		// 数据源上传
		api.Post("/upload/accuracy", handler.UploadAccuracy)
		api.Post("/upload/coverage", handler.UploadCoverage)

		// 合并表与相关性
		api.Get("/merged", handler.GetMerged)
		api.Get("/correlation", handler.GetCorrelation)

		// 聚合视图
		api.Get("/views/accuracy-by-bucket", handler.GetAccuracyByBucket)
		api.Get("/views/accuracy-by-route", handler.GetAccuracyByRoute)
		api.Get("/views/coverage-by-period", handler.GetCoverageByPeriod)
		api.Get("/views/coverage-by-route", handler.GetCoverageByRoute)

		// 筛选控件候选值
		api.Get("/filters/options", handler.GetFilterOptions)

		// 原始数据（截断展示）
		api.Get("/raw/accuracy", handler.GetRawAccuracy)
		api.Get("/raw/coverage", handler.GetRawCoverage)

		// 合并表导出
		api.Get("/export/merged", handler.ExportMerged)

		// 实时日志流(SSE)
		api.Get("/logs/stream", handler.StreamLogs)
	}
}

// CustomErrorHandler 统一错误响应格式
func CustomErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
