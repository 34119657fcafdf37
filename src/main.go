// main.go
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron"

	"AccuracyCoverage/src/config"
	"AccuracyCoverage/src/datapush"
	emailsource "AccuracyCoverage/src/datasource/email"
	filesource "AccuracyCoverage/src/datasource/file"
	"AccuracyCoverage/src/processor"
	"AccuracyCoverage/src/storage"
	"AccuracyCoverage/src/web"
)

func main() {
	// 加载配置
	jsonFolder := "./config"
	jsonFile := "config.json"
	dataJsonFile := "dataconfig.json"
	cfg, dcfg, err := config.LoadConfig(jsonFolder, jsonFile, dataJsonFile)
	if err != nil {
		log.Fatal("加载配置失败:", err)
	}

	// 初始化日志系统
	logger, err := storage.NewLogger(cfg.LogName)
	if err != nil {
		log.Fatal("初始化日志失败:", err)
	}
	defer logger.Close()

	// 分析管线
	analyzer := processor.NewAnalyzer(dcfg.GetRouteDefaultLimit())

	// 分析摘要推送
	var pusher *datapush.Pusher
	if cfg.DingTalk.Enabled && cfg.DingTalk.Webhook != "" {
		pusher = datapush.NewPusher(cfg.DingTalk.Webhook)
	}

	// 一次数据装入后的收尾：两表齐备则推送相关性摘要
	notify := func() {
		if !analyzer.Ready() {
			return
		}
		res, err := analyzer.Snapshot(nil)
		if err != nil {
			logger.Error("生成分析快照失败: " + err.Error())
			return
		}
		logger.Info(fmt.Sprintf("相关性分析: %s (样本数 %d)", processor.BandText(res.Correlation), res.Correlation.N))

		if pusher != nil {
			if err := pusher.PushCorrelation(res.Correlation); err != nil {
				logger.Error("钉钉推送失败: " + err.Error())
			}
		}
		if cfg.SendEmail.Server != "" && cfg.SendEmail.To != "" {
			if err := emailsource.SendSummaryEmail(cfg, processor.BandText(res.Correlation)); err != nil {
				logger.Error(err.Error())
			}
		}
	}

	// 启动前装入数据目录中已有的数据文件
	preloadDataDir(cfg, dcfg, analyzer, logger)
	notify()

	// 目录监控：新写入的数据文件自动装入
	monitor := startMonitor(cfg, dcfg, analyzer, logger, notify)
	if monitor != nil {
		defer monitor.Close()
	}

	// 邮件轮询：定时拉取目标邮件的附件
	cronRunner := startMailPolling(cfg, dcfg, analyzer, logger, notify)
	if cronRunner != nil {
		defer cronRunner.Stop()
	}

	// HTTP服务
	app := fiber.New(fiber.Config{
		AppName:      "AccuracyCoverage API v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: web.CustomErrorHandler,
	})

	app.Use(fiberrecover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	web.SetupRoutes(app, analyzer, dcfg, logger)

	go func() {
		logger.Info("HTTP服务启动: :" + cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("HTTP服务异常退出: %v", err)
		}
	}()

	// 定时检查日志文件大小，超过 log_max_size 则轮转
	rotateTicker := time.NewTicker(time.Minute)
	defer rotateTicker.Stop()
	go func() {
		for range rotateTicker.C {
			logger.CheckRotate(cfg)
		}
	}()

	// SIGHUP 触发日志轮转
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			filename := fmt.Sprintf("%s.%s", cfg.LogName, time.Now().Format("20060102150405"))
			logger.Info("收到SIGHUP，轮转日志...")
			if err := logger.Reopen(filename); err != nil {
				logger.Error("日志轮转失败: " + err.Error())
			}
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务...")
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		logger.Error("强制关闭: " + err.Error())
	}
	logger.Info("服务已退出")
}

// preloadDataDir 启动时扫描数据目录，把已存在的数据文件装入管线
func preloadDataDir(cfg *config.Config, dcfg *config.DataConfig, analyzer *processor.Analyzer, logger *storage.Logger) {
	entries, err := os.ReadDir(cfg.DataDir)
	if err != nil {
		logger.Warning("数据目录不可读: " + err.Error())
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		source := filesource.ClassifySource(entry.Name(), dcfg.AccuracyKeyword, dcfg.CoverageKeyword)
		if source == "" {
			continue
		}
		loadSourceFile(filepath.Join(cfg.DataDir, entry.Name()), source, dcfg, analyzer, logger)
	}
}

// loadSourceFile 读取并装入单个数据文件
func loadSourceFile(path, source string, dcfg *config.DataConfig, analyzer *processor.Analyzer, logger *storage.Logger) {
	df, raw, err := filesource.ReadSourceFile(path, source, dcfg.SheetName)
	if err != nil {
		logger.Error(err.Error())
		return
	}

	hash := processor.ContentHash(raw)
	if source == "accuracy" {
		err = analyzer.LoadAccuracy(df, hash)
	} else {
		err = analyzer.LoadCoverage(df, hash)
	}
	if err != nil {
		logger.Error(fmt.Sprintf("装入 %s 数据失败: %v", source, err))
		return
	}
	logger.Info(fmt.Sprintf("装入 %s 数据源: %s, %d 行", source, path, df.Nrow()))
}

// startMonitor 启动数据目录监控
func startMonitor(cfg *config.Config, dcfg *config.DataConfig, analyzer *processor.Analyzer, logger *storage.Logger, notify func()) *filesource.SourceMonitor {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error("创建数据目录失败: " + err.Error())
		return nil
	}

	monitor, err := filesource.NewSourceMonitor(cfg.DataDir, dcfg.AccuracyKeyword, dcfg.CoverageKeyword)
	if err != nil {
		logger.Error("创建目录监控失败: " + err.Error())
		return nil
	}

	go func() {
		err := monitor.Watch(func(path, source string) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error(fmt.Sprintf("处理文件 %s 时panic: %v", path, r))
				}
			}()
			loadSourceFile(path, source, dcfg, analyzer, logger)
			notify()
		})
		if err != nil {
			logger.Error("目录监控退出: " + err.Error())
		}
	}()

	logger.Info("目录监控已启动: " + cfg.DataDir)
	return monitor
}

// startMailPolling 启动邮件定时轮询
func startMailPolling(cfg *config.Config, dcfg *config.DataConfig, analyzer *processor.Analyzer, logger *storage.Logger, notify func()) *cron.Cron {
	if cfg.Email.Server == "" {
		logger.Info("未配置邮箱，跳过邮件轮询")
		return nil
	}

	emailClient := emailsource.NewEmailClient(
		cfg.Email.Server,
		cfg.Email.Username,
		cfg.Email.Password)

	loader := emailsource.NewDataLoader(analyzer, dcfg, logger)
	saver := emailsource.NewAttachmentSaver(cfg.Email.TargetSubject, cfg.DataDir, loader)

	c := cron.New()

	// 使用配置中的检查间隔而不是硬编码的1分钟
	interval := time.Duration(cfg.Email.CheckInterval).String() // 例如 "5m0s"
	cronSpec := fmt.Sprintf("@every %s", interval)

	err := c.AddFunc(cronSpec, func() {
		logger.Info(fmt.Sprintf("开始定时检查(间隔: %v)...", cronSpec))

		newEmail, err := emailsource.CheckAndProcessEmails(emailClient, cfg.Email.TargetSubject, logger)
		if err != nil {
			logger.Error("检查处理邮件失败: " + err.Error())
			return
		}
		if newEmail == nil {
			return
		}

		if err := saver.Handle(newEmail); err != nil {
			logger.Error(fmt.Sprintf("处理邮件失败(UID:%d): %v", newEmail.UID, err))
			return
		}
		notify()
	})
	if err != nil {
		logger.Error("创建定时任务失败: " + err.Error())
		return nil
	}

	c.Start()
	logger.Info(fmt.Sprintf("邮件监控服务已启动(检查间隔: %v)", interval))
	return c
}
